package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/shule/core/notif"
)

// -----------------------------------------------------------------------------
// Templates
// -----------------------------------------------------------------------------

type templateRepository struct {
	db *templateTable
}

var _ notif.TemplateRepository = (*templateRepository)(nil) // interface compliance check

func NewTemplateRepository(db *DB) *templateRepository {
	return &templateRepository{db: db.template}
}

func (repo *templateRepository) CreateTemplate(ctx context.Context, tmpl notif.Template) (notif.Template, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[tmpl.Name]; ok {
		return notif.Template{}, notif.ErrTemplateExists
	}
	repo.db.table[tmpl.Name] = &tmpl
	return tmpl, nil
}

func (repo *templateRepository) GetTemplate(ctx context.Context, name string) (notif.Template, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if tmpl, ok := repo.db.table[name]; ok {
		return *tmpl, nil
	}
	return notif.Template{}, notif.ErrTemplateNotFound
}

func (repo *templateRepository) QueryAllTemplates(ctx context.Context) ([]notif.Template, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tmpls := make([]notif.Template, 0, len(repo.db.table))
	for _, tmpl := range repo.db.table {
		tmpls = append(tmpls, *tmpl)
	}
	sort.Slice(tmpls, func(i, j int) bool { return tmpls[i].Name < tmpls[j].Name })
	return tmpls, nil
}

func (repo *templateRepository) UpdateTemplate(ctx context.Context, tmpl notif.Template) (notif.Template, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[tmpl.Name]; !ok {
		return notif.Template{}, notif.ErrTemplateNotFound
	}
	repo.db.table[tmpl.Name] = &tmpl
	return tmpl, nil
}

func (repo *templateRepository) DeleteTemplate(ctx context.Context, name string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[name]; !ok {
		return notif.ErrTemplateNotFound
	}
	delete(repo.db.table, name)
	return nil
}

// -----------------------------------------------------------------------------
// Channels
// -----------------------------------------------------------------------------

type channelRepository struct {
	db *channelTable
}

var _ notif.ChannelRepository = (*channelRepository)(nil) // interface compliance check

func NewChannelRepository(db *DB) *channelRepository {
	return &channelRepository{db: db.channel}
}

func (repo *channelRepository) CreateChannel(ctx context.Context, ch notif.Channel) (notif.Channel, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.table[ch.ID] = &ch
	return ch, nil
}

func (repo *channelRepository) GetChannel(ctx context.Context, id string) (notif.Channel, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ch, ok := repo.db.table[id]; ok {
		return *ch, nil
	}
	return notif.Channel{}, notif.ErrChannelNotFound
}

func (repo *channelRepository) GetActiveChannel(ctx context.Context, typ notif.ChannelType) (notif.Channel, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, ch := range repo.db.table {
		if ch.Type == typ && ch.IsActive {
			return *ch, nil
		}
	}
	return notif.Channel{}, notif.ErrChannelNotConfigured
}

func (repo *channelRepository) QueryAllChannels(ctx context.Context) ([]notif.Channel, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	channels := make([]notif.Channel, 0, len(repo.db.table))
	for _, ch := range repo.db.table {
		channels = append(channels, *ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].Type != channels[j].Type {
			return channels[i].Type < channels[j].Type
		}
		return channels[i].Name < channels[j].Name
	})
	return channels, nil
}

func (repo *channelRepository) UpdateChannel(ctx context.Context, ch notif.Channel) (notif.Channel, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[ch.ID]; !ok {
		return notif.Channel{}, notif.ErrChannelNotFound
	}
	repo.db.table[ch.ID] = &ch
	return ch, nil
}

// ActivateChannel holds the table lock for the whole swap, so concurrent
// activations settle on a single active instance per type.
func (repo *channelRepository) ActivateChannel(ctx context.Context, id string) (notif.Channel, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ch, ok := repo.db.table[id]
	if !ok {
		return notif.Channel{}, notif.ErrChannelNotFound
	}
	now := time.Now().UTC()
	for _, other := range repo.db.table {
		if other.Type == ch.Type && other.IsActive && other.ID != id {
			other.IsActive = false
			other.UpdatedAt = now
		}
	}
	ch.IsActive = true
	ch.UpdatedAt = now
	return *ch, nil
}

func (repo *channelRepository) DeleteChannel(ctx context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return notif.ErrChannelNotFound
	}
	delete(repo.db.table, id)
	return nil
}

// -----------------------------------------------------------------------------
// Preferences
// -----------------------------------------------------------------------------

type preferenceRepository struct {
	db *preferenceTable
}

var _ notif.PreferenceRepository = (*preferenceRepository)(nil) // interface compliance check

func NewPreferenceRepository(db *DB) *preferenceRepository {
	return &preferenceRepository{db: db.preference}
}

func (repo *preferenceRepository) GetPreference(ctx context.Context, userID string, kind notif.Kind) (notif.Preference, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if pref, ok := repo.db.table[prefKey{userID, kind}]; ok {
		return *pref, nil
	}
	return notif.Preference{}, notif.ErrPreferenceNotFound
}

func (repo *preferenceRepository) QueryPreferences(ctx context.Context, userID string) ([]notif.Preference, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var prefs []notif.Preference
	for key, pref := range repo.db.table {
		if key.userID == userID {
			prefs = append(prefs, *pref)
		}
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i].Kind < prefs[j].Kind })
	return prefs, nil
}

func (repo *preferenceRepository) UpsertPreference(ctx context.Context, pref notif.Preference) (notif.Preference, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := prefKey{pref.UserID, pref.Kind}
	if orig, ok := repo.db.table[key]; ok {
		pref.CreatedAt = orig.CreatedAt
	} else if pref.CreatedAt.IsZero() {
		pref.CreatedAt = pref.UpdatedAt
	}
	repo.db.table[key] = &pref
	return pref, nil
}

func (repo *preferenceRepository) DeletePreference(ctx context.Context, userID string, kind notif.Kind) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := prefKey{userID, kind}
	if _, ok := repo.db.table[key]; !ok {
		return notif.ErrPreferenceNotFound
	}
	delete(repo.db.table, key)
	return nil
}

// -----------------------------------------------------------------------------
// Notifications & delivery attempts
// -----------------------------------------------------------------------------

type notificationRepository struct {
	db *notificationTable
}

var _ notif.NotificationRepository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db.notification}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notif.Notification) (notif.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.table[n.ID] = &n
	return n, nil
}

func (repo *notificationRepository) GetNotification(ctx context.Context, id string) (notif.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	n, ok := repo.db.table[id]
	if !ok {
		return notif.Notification{}, notif.ErrNotificationNotFound
	}
	out := *n
	out.Attempts = repo.queryAttempts(id)
	return out, nil
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]notif.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var notifs []notif.Notification
	for _, n := range repo.db.table {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		notifs = append(notifs, *n)
	}
	sort.Slice(notifs, func(i, j int) bool { return notifs[i].CreatedAt.After(notifs[j].CreatedAt) })

	if offset >= len(notifs) {
		return nil, nil
	}
	notifs = notifs[offset:]
	if limit > 0 && limit < len(notifs) {
		notifs = notifs[:limit]
	}
	return notifs, nil
}

func (repo *notificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, n := range repo.db.table {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (repo *notificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	n, ok := repo.db.table[id]
	if !ok || n.UserID != userID {
		return notif.ErrNotificationNotFound
	}
	if !n.IsRead {
		n.IsRead = true
		n.ReadAt = time.Now().UTC()
	}
	return nil
}

func (repo *notificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	for _, n := range repo.db.table {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = now
		}
	}
	return nil
}

func (repo *notificationRepository) RecordAttempt(ctx context.Context, att notif.DeliveryAttempt) (notif.DeliveryAttempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.attempts[att.ID] = &att
	return att, nil
}

func (repo *notificationRepository) UpdateAttempt(ctx context.Context, id string, status notif.AttemptStatus, reason string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[id]
	if !ok {
		return notif.ErrNotificationNotFound
	}
	att.Status = status
	att.Reason = reason
	return nil
}

func (repo *notificationRepository) QueryAttempts(ctx context.Context, notificationID string) ([]notif.DeliveryAttempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.queryAttempts(notificationID), nil
}

// callers must hold at least a read lock
func (repo *notificationRepository) queryAttempts(notificationID string) []notif.DeliveryAttempt {
	var attempts []notif.DeliveryAttempt
	for _, att := range repo.db.attempts {
		if att.NotificationID == notificationID {
			attempts = append(attempts, *att)
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		if !attempts[i].AttemptedAt.Equal(attempts[j].AttemptedAt) {
			return attempts[i].AttemptedAt.Before(attempts[j].AttemptedAt)
		}
		return attempts[i].ID < attempts[j].ID
	})
	return attempts
}
