package notif

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// for tests
var nowFunc = time.Now

type (
	TemplateRepository interface {
		CreateTemplate(ctx context.Context, tmpl Template) (Template, error)
		GetTemplate(ctx context.Context, name string) (Template, error)
		QueryAllTemplates(ctx context.Context) ([]Template, error)
		UpdateTemplate(ctx context.Context, tmpl Template) (Template, error)
		DeleteTemplate(ctx context.Context, name string) error
	}

	ChannelRepository interface {
		CreateChannel(ctx context.Context, ch Channel) (Channel, error)
		GetChannel(ctx context.Context, id string) (Channel, error)
		// GetActiveChannel returns ErrChannelNotConfigured when no active instance
		// of typ exists.
		GetActiveChannel(ctx context.Context, typ ChannelType) (Channel, error)
		QueryAllChannels(ctx context.Context) ([]Channel, error)
		UpdateChannel(ctx context.Context, ch Channel) (Channel, error)
		// ActivateChannel marks the instance active and deactivates any other
		// instance of the same type in one transaction, preserving the
		// at-most-one-active-per-type invariant under concurrent activations.
		ActivateChannel(ctx context.Context, id string) (Channel, error)
		DeleteChannel(ctx context.Context, id string) error
	}

	PreferenceRepository interface {
		GetPreference(ctx context.Context, userID string, kind Kind) (Preference, error)
		QueryPreferences(ctx context.Context, userID string) ([]Preference, error)
		UpsertPreference(ctx context.Context, pref Preference) (Preference, error)
		DeletePreference(ctx context.Context, userID string, kind Kind) error
	}

	NotificationRepository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		GetNotification(ctx context.Context, id string) (Notification, error)
		QueryNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error)
		CountUnread(ctx context.Context, userID string) (int, error)
		MarkRead(ctx context.Context, id, userID string) error
		MarkAllRead(ctx context.Context, userID string) error
		RecordAttempt(ctx context.Context, att DeliveryAttempt) (DeliveryAttempt, error)
		UpdateAttempt(ctx context.Context, id string, status AttemptStatus, reason string) error
		QueryAttempts(ctx context.Context, notificationID string) ([]DeliveryAttempt, error)
	}

	// Repositories groups the engine's persistence collaborators.
	Repositories struct {
		Templates     TemplateRepository
		Channels      ChannelRepository
		Preferences   PreferenceRepository
		Notifications NotificationRepository
	}

	// Directory is the external user/role collaborator.
	Directory interface {
		GetUser(ctx context.Context, id string) (user.User, error)
		// UsersWithRole returns all active users holding role; an empty set is
		// not an error.
		UsersWithRole(ctx context.Context, role string) ([]user.User, error)
		TimezoneOf(ctx context.Context, userID string) (*time.Location, error)
	}

	// Recipient is what a channel adapter needs to know about a target user.
	Recipient struct {
		UserID string
		Name   string
		Email  string
		Phone  string
	}

	// Adapter performs the actual transport call for one channel type.
	// A nil error means sent; any error is recorded as a failed attempt.
	Adapter interface {
		Deliver(ctx context.Context, rcpt Recipient, title, body string, ch Channel) error
	}

	// RecipientSelector targets either one user or everyone holding a role.
	RecipientSelector struct {
		UserID string
		Role   string
	}

	// Engine turns domain events into per-recipient notifications and delivery
	// attempts across channels. The Notification row is always created
	// synchronously; channel deliveries run on a bounded worker pool.
	Engine struct {
		log       core.Logger
		templates TemplateRepository
		channels  ChannelRepository
		prefs     PreferenceRepository
		notifs    NotificationRepository
		directory Directory
		adapters  map[ChannelType]Adapter

		defaultTZ      *time.Location
		adapterTimeout time.Duration

		tasks   chan deliveryTask
		workers sync.WaitGroup
		pending sync.WaitGroup
		closed  bool
		mu      sync.Mutex
	}

	deliveryTask struct {
		attemptID string
		rcpt      Recipient
		channel   Channel
		title     string
		body      string
	}
)

// NewEngine wires the dispatch engine. conf.Notification.Workers <= 0 runs
// deliveries synchronously (tests, one-off commands).
func NewEngine(
	conf *core.Config,
	logger core.Logger,
	repos Repositories,
	directory Directory,
	adapters map[ChannelType]Adapter,
) *Engine {
	tz, err := time.LoadLocation(conf.Notification.DefaultTimezone)
	if err != nil {
		logger.Warn(fmt.Sprintf("unknown default timezone %q, using UTC", conf.Notification.DefaultTimezone))
		tz = time.UTC
	}

	e := &Engine{
		log:            logger,
		templates:      repos.Templates,
		channels:       repos.Channels,
		prefs:          repos.Preferences,
		notifs:         repos.Notifications,
		directory:      directory,
		adapters:       adapters,
		defaultTZ:      tz,
		adapterTimeout: conf.Notification.AdapterTimeout,
	}
	if e.adapterTimeout <= 0 {
		e.adapterTimeout = 15 * time.Second
	}

	if n := conf.Notification.Workers; n > 0 {
		e.tasks = make(chan deliveryTask, 2*n)
		for i := 0; i < n; i++ {
			e.workers.Add(1)
			go e.worker()
		}
	}
	return e
}

// Flush blocks until all enqueued deliveries have been attempted and recorded.
func (e *Engine) Flush() {
	e.pending.Wait()
}

// Close drains in-flight deliveries and stops the worker pool.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.Flush()
	if e.tasks != nil {
		close(e.tasks)
		e.workers.Wait()
	}
}

// -----------------------------------------------------------------------------
// Send operations: three façades over one pipeline.
// -----------------------------------------------------------------------------

// SendDirect creates and dispatches an ad hoc notification for one user,
// bypassing templates. With no explicit channels, the user's own selected
// channels apply.
func (e *Engine) SendDirect(ctx context.Context, userID string, kind Kind, title, body string, channels ...ChannelType) (string, error) {
	usr, err := e.directory.GetUser(ctx, userID)
	if err != nil {
		return "", &ResolutionError{Selector: "user " + userID, Err: err}
	}
	return e.send(ctx, usr, kind, title, body, channels, "")
}

// SendByRole fans an ad hoc notification out to every active user holding the
// role. Each recipient gets an independent notification; one recipient's
// failure never aborts the others. Zero matching users is not an error.
func (e *Engine) SendByRole(ctx context.Context, role string, kind Kind, title, body string, channels ...ChannelType) ([]string, error) {
	recipients, err := e.resolveRole(ctx, role)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recipients))
	for _, usr := range recipients {
		id, err := e.send(ctx, usr, kind, title, body, channels, "")
		if err != nil {
			e.log.Error(fmt.Sprintf("sending to %s: %v", usr.ID, err), err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SendFromTemplate resolves recipients, renders the named template with vars
// and dispatches on the template's default channels. An optional per-recipient
// override map (keyed by user id) is merged into the shared bag before
// rendering for that recipient. Unknown template, missing required variable or
// a directory outage fail the whole call before any row is created.
func (e *Engine) SendFromTemplate(ctx context.Context, name string, sel RecipientSelector, vars Vars, perRecipient ...map[string]Vars) ([]string, error) {
	tmpl, err := e.templates.GetTemplate(ctx, name)
	if err != nil {
		if errors.Cause(err) == ErrTemplateNotFound {
			return nil, ErrTemplateNotFound
		}
		return nil, errors.Wrap(err, "loading template "+name)
	}

	var recipients []user.User
	if sel.UserID != "" {
		usr, err := e.directory.GetUser(ctx, sel.UserID)
		if err != nil {
			return nil, &ResolutionError{Selector: "user " + sel.UserID, Err: err}
		}
		recipients = []user.User{usr}
	} else {
		if recipients, err = e.resolveRole(ctx, sel.Role); err != nil {
			return nil, err
		}
	}

	var overrides map[string]Vars
	if len(perRecipient) > 0 {
		overrides = perRecipient[0]
	}

	// Render up front so a bad variable bag leaves no partial state behind.
	// Content is rendered once for the batch unless a recipient has overrides.
	type rendered struct{ title, body string }
	contents := make(map[string]rendered, len(recipients))
	var batch *rendered
	for _, usr := range recipients {
		if ovr, ok := overrides[usr.ID]; ok {
			title, body, err := Render(tmpl, vars.Merge(ovr))
			if err != nil {
				return nil, err
			}
			contents[usr.ID] = rendered{title: title, body: body}
			continue
		}
		if batch == nil {
			title, body, err := Render(tmpl, vars)
			if err != nil {
				return nil, err
			}
			batch = &rendered{title: title, body: body}
		}
		contents[usr.ID] = *batch
	}

	ids := make([]string, 0, len(recipients))
	for _, usr := range recipients {
		c := contents[usr.ID]
		id, err := e.send(ctx, usr, tmpl.Kind, c.title, c.body, tmpl.DefaultChannels, tmpl.Name)
		if err != nil {
			e.log.Error(fmt.Sprintf("sending %q to %s: %v", tmpl.Name, usr.ID, err), err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Engine) resolveRole(ctx context.Context, role string) ([]user.User, error) {
	// an empty prefix would match every role and broadcast to the whole school
	if role == "" {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "role", Error: "role must not be empty"})
	}

	users, err := e.directory.UsersWithRole(ctx, role)
	if err != nil {
		return nil, &ResolutionError{Selector: "role " + role, Err: err}
	}

	// a user may hold several qualifying roles; dedupe
	seen := make(map[string]bool, len(users))
	out := make([]user.User, 0, len(users))
	for _, usr := range users {
		if !seen[usr.ID] {
			seen[usr.ID] = true
			out = append(out, usr)
		}
	}
	return out, nil
}

// send is the shared pipeline: create the instance row first (the in-app/
// read-state record must exist before any attempt is visible), then record
// suppressed attempts, then queue deliveries on the allowed channels.
func (e *Engine) send(ctx context.Context, usr user.User, kind Kind, title, body string, requested []ChannelType, templateName string) (string, error) {
	n := Notification{
		ID:           uuid.New().String(),
		UserID:       usr.ID,
		Kind:         kind,
		Title:        title,
		Body:         body,
		TemplateName: templateName,
		CreatedAt:    nowFunc().UTC(),
	}
	n, err := e.notifs.CreateNotification(ctx, n)
	if err != nil {
		return "", errors.Wrap(err, "creating notification")
	}

	allowed, suppressed := e.selectChannels(ctx, usr.ID, kind, requested)

	for _, s := range suppressed {
		e.recordAttempt(ctx, DeliveryAttempt{
			NotificationID: n.ID,
			ChannelType:    s.typ,
			Status:         StatusSuppressed,
			Reason:         s.reason,
		})
	}

	rcpt := Recipient{UserID: usr.ID, Name: usr.Name, Email: usr.Email, Phone: usr.Phone}
	for _, typ := range allowed {
		ch, err := e.activeChannel(ctx, typ)
		if err != nil {
			// confined to this channel attempt; never raised to the caller
			e.recordAttempt(ctx, DeliveryAttempt{
				NotificationID: n.ID,
				ChannelType:    typ,
				Status:         StatusFailed,
				Reason:         ReasonNotConfigured,
			})
			continue
		}

		att, err := e.recordAttempt(ctx, DeliveryAttempt{
			NotificationID: n.ID,
			ChannelID:      ch.ID,
			ChannelType:    typ,
			Status:         StatusPending,
		})
		if err != nil {
			continue
		}
		e.dispatch(deliveryTask{attemptID: att.ID, rcpt: rcpt, channel: ch, title: title, body: body})
	}

	return n.ID, nil
}

// activeChannel resolves the single active instance for typ. The in-app
// channel needs no configured instance; it falls back to an implicit one.
func (e *Engine) activeChannel(ctx context.Context, typ ChannelType) (Channel, error) {
	ch, err := e.channels.GetActiveChannel(ctx, typ)
	if err != nil {
		if typ == ChannelInApp && errors.Cause(err) == ErrChannelNotConfigured {
			return Channel{Type: ChannelInApp, IsActive: true}, nil
		}
		return Channel{}, err
	}
	return ch, nil
}

func (e *Engine) recordAttempt(ctx context.Context, att DeliveryAttempt) (DeliveryAttempt, error) {
	att.ID = uuid.New().String()
	att.AttemptedAt = nowFunc().UTC()
	rec, err := e.notifs.RecordAttempt(ctx, att)
	if err != nil {
		e.log.Error(fmt.Sprintf("recording %s attempt for %s: %v", att.ChannelType, att.NotificationID, err), err)
		return DeliveryAttempt{}, err
	}
	return rec, nil
}

// -----------------------------------------------------------------------------
// Worker pool
// -----------------------------------------------------------------------------

func (e *Engine) dispatch(task deliveryTask) {
	if e.tasks == nil { // synchronous mode
		e.deliver(task)
		return
	}
	e.pending.Add(1)
	e.tasks <- task
}

func (e *Engine) worker() {
	defer e.workers.Done()
	for task := range e.tasks {
		e.deliver(task)
		e.pending.Done()
	}
}

func (e *Engine) deliver(task deliveryTask) {
	adapter, ok := e.adapters[task.channel.Type]
	if !ok {
		e.finishAttempt(task.attemptID, StatusFailed, "no adapter for "+string(task.channel.Type))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.adapterTimeout)
	defer cancel()

	err := adapter.Deliver(ctx, task.rcpt, task.title, task.body, task.channel)
	if err == nil {
		e.finishAttempt(task.attemptID, StatusSent, "")
		return
	}

	reason := err.Error()
	if errors.Cause(err) == context.DeadlineExceeded || ctx.Err() == context.DeadlineExceeded {
		reason = ReasonTimeout
	}
	e.log.Warn(fmt.Sprintf("%s delivery failed for %s: %v", task.channel.Type, task.rcpt.UserID, err))
	e.finishAttempt(task.attemptID, StatusFailed, reason)
}

func (e *Engine) finishAttempt(attemptID string, status AttemptStatus, reason string) {
	// fresh context: the task context may already be past its deadline
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.notifs.UpdateAttempt(ctx, attemptID, status, reason); err != nil {
		e.log.Error(fmt.Sprintf("updating attempt %s: %v", attemptID, err), err)
	}
}

// -----------------------------------------------------------------------------
// Read API (UI layer)
// -----------------------------------------------------------------------------

func (e *Engine) GetNotification(ctx context.Context, id string) (Notification, error) {
	return e.notifs.GetNotification(ctx, id)
}

func (e *Engine) QueryNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.notifs.QueryNotifications(ctx, userID, unreadOnly, limit, offset)
}

func (e *Engine) CountUnread(ctx context.Context, userID string) (int, error) {
	return e.notifs.CountUnread(ctx, userID)
}

func (e *Engine) MarkRead(ctx context.Context, id, userID string) error {
	return e.notifs.MarkRead(ctx, id, userID)
}

func (e *Engine) MarkAllRead(ctx context.Context, userID string) error {
	return e.notifs.MarkAllRead(ctx, userID)
}

func (e *Engine) QueryAttempts(ctx context.Context, notificationID string) ([]DeliveryAttempt, error) {
	return e.notifs.QueryAttempts(ctx, notificationID)
}

// -----------------------------------------------------------------------------
// Admin API: templates
// -----------------------------------------------------------------------------

func (e *Engine) CreateTemplate(ctx context.Context, nt NewTemplate) (Template, error) {
	now := nowFunc().UTC()
	tmpl := Template{
		Name:            core.CleanString(nt.Name, true /* lower */),
		TitleTmpl:       nt.TitleTmpl,
		BodyTmpl:        nt.BodyTmpl,
		Kind:            Kind(nt.Kind),
		DefaultChannels: toChannelTypes(nt.DefaultChannels),
		RequiredVars:    nt.RequiredVars,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := e.templates.CreateTemplate(ctx, tmpl)
	if err != nil {
		if errors.Cause(err) == ErrTemplateExists {
			return Template{}, core.NewValidationError(err, core.FieldError{Field: "name", Error: err.Error()})
		}
		return Template{}, errors.Wrap(err, "creating template")
	}
	return created, nil
}

func (e *Engine) GetTemplate(ctx context.Context, name string) (Template, error) {
	return e.templates.GetTemplate(ctx, core.CleanString(name, true /* lower */))
}

func (e *Engine) QueryTemplates(ctx context.Context) ([]Template, error) {
	return e.templates.QueryAllTemplates(ctx)
}

func (e *Engine) UpdateTemplate(ctx context.Context, name string, ut UpdateTemplate) (Template, error) {
	tmpl, err := e.GetTemplate(ctx, name)
	if err != nil {
		return Template{}, err
	}
	if ut.TitleTmpl != "" {
		tmpl.TitleTmpl = ut.TitleTmpl
	}
	if ut.BodyTmpl != "" {
		tmpl.BodyTmpl = ut.BodyTmpl
	}
	if ut.Kind != "" {
		tmpl.Kind = Kind(ut.Kind)
	}
	if ut.DefaultChannels != nil {
		tmpl.DefaultChannels = toChannelTypes(ut.DefaultChannels)
	}
	if ut.RequiredVars != nil {
		tmpl.RequiredVars = ut.RequiredVars
	}
	tmpl.UpdatedAt = nowFunc().UTC()
	return e.templates.UpdateTemplate(ctx, tmpl)
}

func (e *Engine) DeleteTemplate(ctx context.Context, name string) error {
	return e.templates.DeleteTemplate(ctx, core.CleanString(name, true /* lower */))
}

// -----------------------------------------------------------------------------
// Admin API: channels
// -----------------------------------------------------------------------------

func (e *Engine) CreateChannel(ctx context.Context, nc NewChannel) (Channel, error) {
	typ := ChannelType(nc.Type)
	if err := nc.Config.Validate(typ); err != nil {
		return Channel{}, core.NewValidationError(err, core.FieldError{Field: "config", Error: err.Error()})
	}

	now := nowFunc().UTC()
	ch := Channel{
		ID:        uuid.New().String(),
		Type:      typ,
		Name:      core.CleanString(nc.Name),
		Config:    nc.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := e.channels.CreateChannel(ctx, ch)
	if err != nil {
		return Channel{}, errors.Wrap(err, "creating channel")
	}
	if nc.Activate {
		return e.channels.ActivateChannel(ctx, created.ID)
	}
	return created, nil
}

func (e *Engine) GetChannel(ctx context.Context, id string) (Channel, error) {
	return e.channels.GetChannel(ctx, id)
}

func (e *Engine) GetActiveChannel(ctx context.Context, typ ChannelType) (Channel, error) {
	return e.channels.GetActiveChannel(ctx, typ)
}

func (e *Engine) QueryChannels(ctx context.Context) ([]Channel, error) {
	return e.channels.QueryAllChannels(ctx)
}

func (e *Engine) UpdateChannel(ctx context.Context, id string, uc UpdateChannel) (Channel, error) {
	ch, err := e.channels.GetChannel(ctx, id)
	if err != nil {
		return Channel{}, err
	}
	if uc.Name != "" {
		ch.Name = core.CleanString(uc.Name)
	}
	if uc.Config != nil {
		if err = uc.Config.Validate(ch.Type); err != nil {
			return Channel{}, core.NewValidationError(err, core.FieldError{Field: "config", Error: err.Error()})
		}
		ch.Config = *uc.Config
	}
	ch.UpdatedAt = nowFunc().UTC()
	return e.channels.UpdateChannel(ctx, ch)
}

// ActivateChannel makes the instance the single active one of its type.
func (e *Engine) ActivateChannel(ctx context.Context, id string) (Channel, error) {
	return e.channels.ActivateChannel(ctx, id)
}

func (e *Engine) DeleteChannel(ctx context.Context, id string) error {
	return e.channels.DeleteChannel(ctx, id)
}

// -----------------------------------------------------------------------------
// Self-service API: preferences
// -----------------------------------------------------------------------------

// GetPreference returns the stored row or the default behavior for the pair.
func (e *Engine) GetPreference(ctx context.Context, userID string, kind Kind) (Preference, error) {
	pref, err := e.prefs.GetPreference(ctx, userID, kind)
	if err != nil {
		if errors.Cause(err) == ErrPreferenceNotFound {
			return DefaultPreference(userID, kind), nil
		}
		return Preference{}, err
	}
	return pref, nil
}

// QueryPreferences returns one row per kind, filling gaps with defaults.
func (e *Engine) QueryPreferences(ctx context.Context, userID string) ([]Preference, error) {
	stored, err := e.prefs.QueryPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	byKind := make(map[Kind]Preference, len(stored))
	for _, pref := range stored {
		byKind[pref.Kind] = pref
	}
	out := make([]Preference, 0, len(AllKinds))
	for _, kind := range AllKinds {
		if pref, ok := byKind[kind]; ok {
			out = append(out, pref)
		} else {
			out = append(out, DefaultPreference(userID, kind))
		}
	}
	return out, nil
}

func (e *Engine) UpsertPreference(ctx context.Context, userID string, up UpdatePreference) (Preference, error) {
	pref := Preference{
		UserID:    userID,
		Kind:      Kind(up.Kind),
		Enabled:   up.Enabled,
		Channels:  toChannelTypes(up.Channels),
		UpdatedAt: nowFunc().UTC(),
	}
	if up.QuietStart != "" {
		start, err := ParseClock(up.QuietStart)
		if err != nil {
			return Preference{}, core.NewValidationError(err, core.FieldError{Field: "quiet_start", Error: err.Error()})
		}
		end, err := ParseClock(up.QuietEnd)
		if err != nil {
			return Preference{}, core.NewValidationError(err, core.FieldError{Field: "quiet_end", Error: err.Error()})
		}
		pref.QuietStart, pref.QuietEnd = &start, &end
	}
	return e.prefs.UpsertPreference(ctx, pref)
}

func (e *Engine) DeletePreference(ctx context.Context, userID string, kind Kind) error {
	return e.prefs.DeletePreference(ctx, userID, kind)
}

func toChannelTypes(types []string) []ChannelType {
	out := make([]ChannelType, 0, len(types))
	for _, typ := range types {
		out = append(out, ChannelType(typ))
	}
	return out
}
