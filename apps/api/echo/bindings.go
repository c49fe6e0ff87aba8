package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
)

var errOneRecipientSelector = "exactly one of user_id or role must be set"

type (
	// SendRequest dispatches an ad hoc notification to one user or a role.
	SendRequest struct {
		UserID   string   `json:"user_id"`
		Role     string   `json:"role"`
		Kind     string   `json:"kind" validate:"required,notifkind"`
		Title    string   `json:"title" validate:"required"`
		Body     string   `json:"body" validate:"required"`
		Channels []string `json:"channels" validate:"omitempty,dive,channeltype"`
	}

	// SendTemplateRequest dispatches a templated notification. PerRecipient
	// overrides the shared vars for specific user IDs.
	SendTemplateRequest struct {
		Name         string                `json:"name" validate:"required"`
		UserID       string                `json:"user_id"`
		Role         string                `json:"role"`
		Vars         notif.Vars            `json:"vars"`
		PerRecipient map[string]notif.Vars `json:"per_recipient"`
	}

	SendResponse struct {
		NotificationIDs []string `json:"notification_ids"`
	}
)

func validateSelector(userID, role string) error {
	if (userID == "") == (role == "") {
		return core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: errOneRecipientSelector})
	}
	return nil
}

func (r *SendRequest) Validate(validate *validator.Validate) error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	return validateSelector(r.UserID, r.Role)
}

func (r *SendTemplateRequest) Validate(validate *validator.Validate) error {
	r.Name = core.CleanString(r.Name, true /* lower */)
	if err := validate.Struct(r); err != nil {
		return err
	}
	return validateSelector(r.UserID, r.Role)
}
