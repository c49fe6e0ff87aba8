package dummydb

import (
	"sync"

	"github.com/trezcool/shule/core/notif"
	"github.com/trezcool/shule/core/user"
)

type (
	DB struct {
		user         *userTable
		template     *templateTable
		channel      *channelTable
		preference   *preferenceTable
		notification *notificationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	templateTable struct {
		sync.RWMutex
		table map[string]*notif.Template
	}

	channelTable struct {
		sync.RWMutex
		table map[string]*notif.Channel
	}

	prefKey struct {
		userID string
		kind   notif.Kind
	}

	preferenceTable struct {
		sync.RWMutex
		table map[prefKey]*notif.Preference
	}

	notificationTable struct {
		sync.RWMutex
		table    map[string]*notif.Notification
		attempts map[string]*notif.DeliveryAttempt
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		template:   &templateTable{table: make(map[string]*notif.Template)},
		channel:    &channelTable{table: make(map[string]*notif.Channel)},
		preference: &preferenceTable{table: make(map[prefKey]*notif.Preference)},
		notification: &notificationTable{
			table:    make(map[string]*notif.Notification),
			attempts: make(map[string]*notif.DeliveryAttempt),
		},
	}
	return db, nil
}
