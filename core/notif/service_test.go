package notif_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
	"github.com/trezcool/shule/core/user"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
)

type testLogger struct{}

func (testLogger) Enable(bool)                  {}
func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

// recordingAdapter counts deliveries; an optional delay simulates a slow vendor.
type recordingAdapter struct {
	mu    sync.Mutex
	calls []string // recipient user IDs
	err   error
	delay time.Duration
}

func (a *recordingAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.delay):
		}
	}
	a.mu.Lock()
	a.calls = append(a.calls, rcpt.UserID)
	a.mu.Unlock()
	return a.err
}

func (a *recordingAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type testEnv struct {
	db       *dummydb.DB
	engine   *notif.Engine
	repos    notif.Repositories
	inApp    *recordingAdapter
	email    *recordingAdapter
	adapters map[notif.ChannelType]notif.Adapter
}

func newTestEnv(t *testing.T, workers int, timeout time.Duration) *testEnv {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}

	usrRepo := dummydb.NewUserRepository(db)
	for _, usr := range []user.User{
		{ID: "t1", Name: "Tom", Username: "tom", Email: "tom@shule.test", Phone: "+255700000001", IsActive: true, Roles: []string{"teacher:"}},
		{ID: "t2", Name: "Tina", Username: "tina", Email: "tina@shule.test", Phone: "+255700000002", IsActive: true, Roles: []string{"teacher:math"}},
		{ID: "t3", Name: "Ted", Username: "ted", Email: "ted@shule.test", IsActive: false, Roles: []string{"teacher:"}},
		{ID: "s1", Name: "Sam", Username: "sam", Email: "sam@shule.test", IsActive: true, Roles: []string{"student:"}},
	} {
		usrRepo.SetUser(usr)
	}

	env := &testEnv{
		db: db,
		repos: notif.Repositories{
			Templates:     dummydb.NewTemplateRepository(db),
			Channels:      dummydb.NewChannelRepository(db),
			Preferences:   dummydb.NewPreferenceRepository(db),
			Notifications: dummydb.NewNotificationRepository(db),
		},
		inApp: &recordingAdapter{},
		email: &recordingAdapter{},
	}
	env.adapters = map[notif.ChannelType]notif.Adapter{
		notif.ChannelInApp: env.inApp,
		notif.ChannelEmail: env.email,
	}

	conf := &core.Config{
		Notification: core.NotificationConfig{
			DefaultTimezone: "UTC",
			Workers:         workers,
			AdapterTimeout:  timeout,
		},
	}
	env.engine = notif.NewEngine(conf, testLogger{}, env.repos, notif.NewDirectory(usrRepo, time.UTC), env.adapters)
	t.Cleanup(env.engine.Close)
	return env
}

func (env *testEnv) activateEmailChannel(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := env.repos.Channels.CreateChannel(ctx, notif.Channel{
		ID:       "ch-email",
		Type:     notif.ChannelEmail,
		Name:     "sendgrid",
		Config:   notif.ChannelConfig{Email: &notif.EmailConfig{From: "noreply@shule.test"}},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("creating email channel failed: %v", err)
	}
}

func (env *testEnv) attempts(t *testing.T, notifID string) []notif.DeliveryAttempt {
	t.Helper()
	attempts, err := env.repos.Notifications.QueryAttempts(context.Background(), notifID)
	if err != nil {
		t.Fatalf("QueryAttempts() failed: %v", err)
	}
	return attempts
}

func findAttempt(attempts []notif.DeliveryAttempt, typ notif.ChannelType) (notif.DeliveryAttempt, bool) {
	for _, att := range attempts {
		if att.ChannelType == typ {
			return att, true
		}
	}
	return notif.DeliveryAttempt{}, false
}

func TestEngineSendDirect(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()

	id, err := env.engine.SendDirect(ctx, "t1", notif.KindInfo, "Staff meeting", "Friday at 10:00.")
	if err != nil {
		t.Fatalf("SendDirect() failed: %v", err)
	}

	n, err := env.engine.GetNotification(ctx, id)
	if err != nil {
		t.Fatalf("GetNotification() failed: %v", err)
	}
	if n.UserID != "t1" || n.Title != "Staff meeting" || n.IsRead {
		t.Errorf("unexpected notification: %+v", n)
	}

	// default preference: in-app only
	attempts := env.attempts(t, id)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1: %+v", len(attempts), attempts)
	}
	if attempts[0].ChannelType != notif.ChannelInApp || attempts[0].Status != notif.StatusSent {
		t.Errorf("unexpected attempt: %+v", attempts[0])
	}
	if env.inApp.callCount() != 1 {
		t.Errorf("in-app adapter calls = %d, want 1", env.inApp.callCount())
	}

	// unknown recipient fails resolution
	var rErr *notif.ResolutionError
	if _, err = env.engine.SendDirect(ctx, "nope", notif.KindInfo, "x", "y"); !errors.As(err, &rErr) {
		t.Errorf("SendDirect(unknown) error = %v, want *ResolutionError", err)
	}
}

func TestEngineSendDirectDisabledPreference(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()
	env.activateEmailChannel(t)

	_, err := env.repos.Preferences.UpsertPreference(ctx, notif.Preference{
		UserID:   "t1",
		Kind:     notif.KindInfo,
		Enabled:  false,
		Channels: []notif.ChannelType{notif.ChannelInApp, notif.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("UpsertPreference() failed: %v", err)
	}

	id, err := env.engine.SendDirect(ctx, "t1", notif.KindInfo, "Muted", "You won't hear this.",
		notif.ChannelInApp, notif.ChannelEmail)
	if err != nil {
		t.Fatalf("SendDirect() failed: %v", err)
	}

	// the instance row still exists for later discovery
	if _, err = env.engine.GetNotification(ctx, id); err != nil {
		t.Fatalf("GetNotification() failed: %v", err)
	}

	attempts := env.attempts(t, id)
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2: %+v", len(attempts), attempts)
	}
	for _, att := range attempts {
		if att.Status != notif.StatusSuppressed || att.Reason != notif.ReasonDisabledByPreference {
			t.Errorf("unexpected attempt: %+v", att)
		}
	}
	if env.inApp.callCount() != 0 || env.email.callCount() != 0 {
		t.Errorf("no adapter should have been called")
	}
}

func TestEngineSendDirectQuietHours(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()
	env.activateEmailChannel(t)

	// start == end: the quiet window covers the whole day
	quiet, _ := notif.ParseClock("22:00")
	_, err := env.repos.Preferences.UpsertPreference(ctx, notif.Preference{
		UserID:     "t1",
		Kind:       notif.KindWarning,
		Enabled:    true,
		Channels:   []notif.ChannelType{notif.ChannelInApp, notif.ChannelEmail},
		QuietStart: &quiet,
		QuietEnd:   &quiet,
	})
	if err != nil {
		t.Fatalf("UpsertPreference() failed: %v", err)
	}

	id, err := env.engine.SendDirect(ctx, "t1", notif.KindWarning, "Grade posted", "Check the portal.")
	if err != nil {
		t.Fatalf("SendDirect() failed: %v", err)
	}

	attempts := env.attempts(t, id)
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2: %+v", len(attempts), attempts)
	}

	// in-app is passive/pull; quiet hours never silence it
	inApp, ok := findAttempt(attempts, notif.ChannelInApp)
	if !ok || inApp.Status != notif.StatusSent {
		t.Errorf("in-app attempt = %+v, want sent", inApp)
	}
	email, ok := findAttempt(attempts, notif.ChannelEmail)
	if !ok || email.Status != notif.StatusSuppressed || email.Reason != notif.ReasonQuietHours {
		t.Errorf("email attempt = %+v, want suppressed (quiet-hours)", email)
	}
	if env.email.callCount() != 0 {
		t.Errorf("email adapter calls = %d, want 0", env.email.callCount())
	}
}

func TestEngineSendDirectFallbackToInApp(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()
	env.activateEmailChannel(t)

	// user only wants SMS; an email-only request has an empty intersection
	_, err := env.repos.Preferences.UpsertPreference(ctx, notif.Preference{
		UserID:   "t1",
		Kind:     notif.KindInfo,
		Enabled:  true,
		Channels: []notif.ChannelType{notif.ChannelSMS},
	})
	if err != nil {
		t.Fatalf("UpsertPreference() failed: %v", err)
	}

	id, err := env.engine.SendDirect(ctx, "t1", notif.KindInfo, "Hello", "World", notif.ChannelEmail)
	if err != nil {
		t.Fatalf("SendDirect() failed: %v", err)
	}

	attempts := env.attempts(t, id)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1: %+v", len(attempts), attempts)
	}
	if attempts[0].ChannelType != notif.ChannelInApp || attempts[0].Status != notif.StatusSent {
		t.Errorf("unexpected attempt: %+v", attempts[0])
	}
	if env.email.callCount() != 0 {
		t.Errorf("email adapter calls = %d, want 0", env.email.callCount())
	}
}

func TestEngineSendDirectNoActiveChannel(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()
	// no email channel instance is configured

	_, err := env.repos.Preferences.UpsertPreference(ctx, notif.Preference{
		UserID:   "t1",
		Kind:     notif.KindInfo,
		Enabled:  true,
		Channels: []notif.ChannelType{notif.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("UpsertPreference() failed: %v", err)
	}

	id, err := env.engine.SendDirect(ctx, "t1", notif.KindInfo, "Hello", "World", notif.ChannelEmail)
	if err != nil {
		t.Fatalf("SendDirect() failed: %v", err)
	}

	attempts := env.attempts(t, id)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1: %+v", len(attempts), attempts)
	}
	if attempts[0].Status != notif.StatusFailed || attempts[0].Reason != notif.ReasonNotConfigured {
		t.Errorf("unexpected attempt: %+v", attempts[0])
	}
}

func TestEngineSendDirectAdapterFailures(t *testing.T) {
	env := newTestEnv(t, 0, 20*time.Millisecond)
	ctx := context.Background()
	env.activateEmailChannel(t)

	_, err := env.repos.Preferences.UpsertPreference(ctx, notif.Preference{
		UserID:   "t1",
		Kind:     notif.KindInfo,
		Enabled:  true,
		Channels: []notif.ChannelType{notif.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("UpsertPreference() failed: %v", err)
	}

	// vendor error
	env.email.err = errors.New("boom")
	id, err := env.engine.SendDirect(ctx, "t1", notif.KindInfo, "Hello", "World", notif.ChannelEmail)
	if err != nil {
		t.Fatalf("SendDirect() failed: %v", err)
	}
	att, _ := findAttempt(env.attempts(t, id), notif.ChannelEmail)
	if att.Status != notif.StatusFailed || att.Reason != "boom" {
		t.Errorf("attempt = %+v, want failed (boom)", att)
	}

	// vendor slower than the adapter timeout
	env.email.err = nil
	env.email.delay = 200 * time.Millisecond
	id, err = env.engine.SendDirect(ctx, "t1", notif.KindInfo, "Hello", "World", notif.ChannelEmail)
	if err != nil {
		t.Fatalf("SendDirect() failed: %v", err)
	}
	att, _ = findAttempt(env.attempts(t, id), notif.ChannelEmail)
	if att.Status != notif.StatusFailed || att.Reason != notif.ReasonTimeout {
		t.Errorf("attempt = %+v, want failed (timeout)", att)
	}
}

func TestEngineSendByRole(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()

	// matches t1 ("teacher:") and t2 ("teacher:math"); t3 is inactive
	ids, err := env.engine.SendByRole(ctx, "teacher:", notif.KindInfo, "Staff memo", "Read me.")
	if err != nil {
		t.Fatalf("SendByRole() failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("notifications = %d, want 2", len(ids))
	}

	recipients := make(map[string]bool)
	for _, id := range ids {
		n, err := env.engine.GetNotification(ctx, id)
		if err != nil {
			t.Fatalf("GetNotification() failed: %v", err)
		}
		recipients[n.UserID] = true
	}
	if !recipients["t1"] || !recipients["t2"] {
		t.Errorf("recipients = %v, want t1 and t2", recipients)
	}

	// zero matching users is not an error
	ids, err = env.engine.SendByRole(ctx, "parent:", notif.KindInfo, "x", "y")
	if err != nil {
		t.Fatalf("SendByRole(parent:) failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("notifications = %d, want 0", len(ids))
	}

	// an empty role is rejected, not broadcast to everyone
	var vErr *core.ValidationError
	if _, err = env.engine.SendByRole(ctx, "", notif.KindInfo, "x", "y"); !errors.As(err, &vErr) {
		t.Fatalf("SendByRole(\"\") error = %v, want *core.ValidationError", err)
	}
}

func TestEngineSendFromTemplate(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()

	_, err := env.engine.CreateTemplate(ctx, notif.NewTemplate{
		Name:         "fees_due",
		TitleTmpl:    "Fees due for {{student_name}}",
		BodyTmpl:     "{{amount}} due by {{due_date}}.",
		Kind:         string(notif.KindWarning),
		RequiredVars: []string{"student_name", "amount"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}

	// missing required variable fails the whole call, before any row is created
	var mErr *notif.MissingVariableError
	_, err = env.engine.SendFromTemplate(ctx, "fees_due", notif.RecipientSelector{Role: "teacher:"}, notif.Vars{"student_name": "Amina"})
	if !errors.As(err, &mErr) || mErr.Variable != "amount" {
		t.Fatalf("SendFromTemplate() error = %v, want MissingVariableError(amount)", err)
	}
	for _, userID := range []string{"t1", "t2"} {
		notifs, err := env.engine.QueryNotifications(ctx, userID, false, 10, 0)
		if err != nil {
			t.Fatalf("QueryNotifications() failed: %v", err)
		}
		if len(notifs) != 0 {
			t.Errorf("notifications for %s = %d, want 0 after failed render", userID, len(notifs))
		}
	}

	// happy path with a per-recipient override
	vars := notif.Vars{"student_name": "Amina", "amount": 1500}
	ids, err := env.engine.SendFromTemplate(ctx, "fees_due", notif.RecipientSelector{Role: "teacher:"}, vars,
		map[string]notif.Vars{"t2": {"amount": 2000}})
	if err != nil {
		t.Fatalf("SendFromTemplate() failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("notifications = %d, want 2", len(ids))
	}
	for _, id := range ids {
		n, err := env.engine.GetNotification(ctx, id)
		if err != nil {
			t.Fatalf("GetNotification() failed: %v", err)
		}
		if n.Kind != notif.KindWarning || n.TemplateName != "fees_due" {
			t.Errorf("unexpected notification: %+v", n)
		}
		want := "1500 due by {{due_date}}."
		if n.UserID == "t2" {
			want = "2000 due by {{due_date}}."
		}
		if n.Body != want {
			t.Errorf("body for %s = %q, want %q", n.UserID, n.Body, want)
		}
	}

	// unknown template
	if _, err = env.engine.SendFromTemplate(ctx, "nope", notif.RecipientSelector{UserID: "t1"}, nil); !errors.Is(err, notif.ErrTemplateNotFound) {
		t.Errorf("SendFromTemplate(unknown) error = %v, want ErrTemplateNotFound", err)
	}

	// a zero selector is rejected, not broadcast to everyone
	var vErr *core.ValidationError
	if _, err = env.engine.SendFromTemplate(ctx, "fees_due", notif.RecipientSelector{}, vars); !errors.As(err, &vErr) {
		t.Errorf("SendFromTemplate(zero selector) error = %v, want *core.ValidationError", err)
	}
}

func TestEngineCreateTemplateDuplicate(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()

	nt := notif.NewTemplate{Name: "memo", TitleTmpl: "t", BodyTmpl: "b", Kind: string(notif.KindInfo)}
	if _, err := env.engine.CreateTemplate(ctx, nt); err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}

	_, err := env.engine.CreateTemplate(ctx, nt)
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("CreateTemplate(duplicate) error = %v, want *core.ValidationError", err)
	}
}

func TestEngineConcurrentChannelActivation(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()

	ids := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, id := range ids {
		_, err := env.repos.Channels.CreateChannel(ctx, notif.Channel{
			ID:     id,
			Type:   notif.ChannelEmail,
			Name:   "email-" + id,
			Config: notif.ChannelConfig{Email: &notif.EmailConfig{}},
		})
		if err != nil {
			t.Fatalf("CreateChannel() failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := env.engine.ActivateChannel(ctx, id); err != nil {
				t.Errorf("ActivateChannel(%s) failed: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	channels, err := env.engine.QueryChannels(ctx)
	if err != nil {
		t.Fatalf("QueryChannels() failed: %v", err)
	}
	var active int
	for _, ch := range channels {
		if ch.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active email channels = %d, want exactly 1", active)
	}
}

func TestEngineWorkerPool(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)
	ctx := context.Background()

	env.inApp.delay = 5 * time.Millisecond

	var ids []string
	for i := 0; i < 10; i++ {
		id, err := env.engine.SendDirect(ctx, "s1", notif.KindInfo, "Ping", "Pong")
		if err != nil {
			t.Fatalf("SendDirect() failed: %v", err)
		}
		ids = append(ids, id)
	}
	env.engine.Flush()

	for _, id := range ids {
		att, ok := findAttempt(env.attempts(t, id), notif.ChannelInApp)
		if !ok || att.Status != notif.StatusSent {
			t.Errorf("attempt for %s = %+v, want sent", id, att)
		}
	}
	if env.inApp.callCount() != 10 {
		t.Errorf("in-app adapter calls = %d, want 10", env.inApp.callCount())
	}
}

func TestEnginePreferences(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()

	// default when no row exists
	pref, err := env.engine.GetPreference(ctx, "s1", notif.KindError)
	if err != nil {
		t.Fatalf("GetPreference() failed: %v", err)
	}
	if !pref.Enabled || len(pref.Channels) != 1 || pref.Channels[0] != notif.ChannelInApp {
		t.Errorf("default preference = %+v", pref)
	}

	// one row per kind, defaults filling the gaps
	if _, err = env.engine.UpsertPreference(ctx, "s1", notif.UpdatePreference{
		Kind:       string(notif.KindInfo),
		Enabled:    true,
		Channels:   []string{"in-app", "email"},
		QuietStart: "22:00",
		QuietEnd:   "06:00",
	}); err != nil {
		t.Fatalf("UpsertPreference() failed: %v", err)
	}
	prefs, err := env.engine.QueryPreferences(ctx, "s1")
	if err != nil {
		t.Fatalf("QueryPreferences() failed: %v", err)
	}
	if len(prefs) != len(notif.AllKinds) {
		t.Fatalf("preferences = %d, want %d", len(prefs), len(notif.AllKinds))
	}
	for _, p := range prefs {
		if p.Kind == notif.KindInfo {
			if !p.HasQuietHours() || p.QuietStart.String() != "22:00" {
				t.Errorf("stored preference = %+v", p)
			}
		} else if p.HasQuietHours() {
			t.Errorf("default preference for %s has quiet hours", p.Kind)
		}
	}

	// malformed clock value
	_, err = env.engine.UpsertPreference(ctx, "s1", notif.UpdatePreference{
		Kind:       string(notif.KindInfo),
		Enabled:    true,
		QuietStart: "25:00",
		QuietEnd:   "06:00",
	})
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("UpsertPreference(bad clock) error = %v, want *core.ValidationError", err)
	}
}

func TestEngineReadState(t *testing.T) {
	env := newTestEnv(t, 0, time.Second)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := env.engine.SendDirect(ctx, "s1", notif.KindInfo, "Ping", "Pong")
		if err != nil {
			t.Fatalf("SendDirect() failed: %v", err)
		}
		ids = append(ids, id)
	}

	count, err := env.engine.CountUnread(ctx, "s1")
	if err != nil {
		t.Fatalf("CountUnread() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("unread = %d, want 3", count)
	}

	if err = env.engine.MarkRead(ctx, ids[0], "s1"); err != nil {
		t.Fatalf("MarkRead() failed: %v", err)
	}
	// another user cannot read someone else's notification
	if err = env.engine.MarkRead(ctx, ids[1], "t1"); !errors.Is(err, notif.ErrNotificationNotFound) {
		t.Errorf("MarkRead(other user) error = %v, want ErrNotificationNotFound", err)
	}

	unread, err := env.engine.QueryNotifications(ctx, "s1", true, 10, 0)
	if err != nil {
		t.Fatalf("QueryNotifications() failed: %v", err)
	}
	if len(unread) != 2 {
		t.Errorf("unread notifications = %d, want 2", len(unread))
	}

	if err = env.engine.MarkAllRead(ctx, "s1"); err != nil {
		t.Fatalf("MarkAllRead() failed: %v", err)
	}
	if count, _ = env.engine.CountUnread(ctx, "s1"); count != 0 {
		t.Errorf("unread after MarkAllRead = %d, want 0", count)
	}
}
