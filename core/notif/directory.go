package notif

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/user"
)

// directoryService adapts the user repository into the engine's Directory
// collaborator.
type directoryService struct {
	repo      user.Repository
	defaultTZ *time.Location
}

var _ Directory = (*directoryService)(nil) // interface compliance check

func NewDirectory(repo user.Repository, defaultTZ *time.Location) Directory {
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	return &directoryService{repo: repo, defaultTZ: defaultTZ}
}

func (svc *directoryService) GetUser(ctx context.Context, id string) (user.User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *directoryService) UsersWithRole(ctx context.Context, role string) ([]user.User, error) {
	users, err := svc.repo.QueryUsersByRole(ctx, role)
	if err != nil {
		return nil, errors.Wrap(err, "querying users by role")
	}
	return users, nil
}

// TimezoneOf resolves the user's IANA timezone, falling back to the default
// zone when unset or unknown.
func (svc *directoryService) TimezoneOf(ctx context.Context, userID string) (*time.Location, error) {
	usr, err := svc.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if usr.Timezone == "" {
		return svc.defaultTZ, nil
	}
	loc, err := time.LoadLocation(usr.Timezone)
	if err != nil {
		return svc.defaultTZ, nil
	}
	return loc, nil
}
