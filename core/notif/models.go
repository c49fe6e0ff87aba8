package notif

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the semantic category of a notification, independent of channel.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

var AllKinds = []Kind{KindInfo, KindSuccess, KindWarning, KindError}

func (k Kind) IsValid() bool {
	for _, kind := range AllKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ChannelType is a delivery medium. At most one configured Channel instance
// per type is active at any time.
type ChannelType string

const (
	ChannelInApp ChannelType = "in-app"
	ChannelEmail ChannelType = "email"
	ChannelSMS   ChannelType = "sms"
	ChannelPush  ChannelType = "push"
	ChannelChat  ChannelType = "chat"
)

var AllChannelTypes = []ChannelType{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush, ChannelChat}

func (t ChannelType) IsValid() bool {
	for _, typ := range AllChannelTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// AttemptStatus is the outcome of one (notification, channel) delivery attempt.
type AttemptStatus string

const (
	StatusPending    AttemptStatus = "pending"
	StatusSent       AttemptStatus = "sent"
	StatusSuppressed AttemptStatus = "suppressed"
	StatusFailed     AttemptStatus = "failed"
)

// Suppression / failure reasons recorded on delivery attempts.
const (
	ReasonDisabledByPreference = "disabled-by-preference"
	ReasonQuietHours           = "quiet-hours"
	ReasonTimeout              = "timeout"
	ReasonNotConfigured        = "no-active-channel"
)

// Template is a parameterized message bound by name from the template send path.
// Edits never rewrite already-rendered notifications; rendered title/body are
// copied onto each Notification at dispatch time.
type Template struct {
	Name            string        `json:"name"`
	TitleTmpl       string        `json:"title_tmpl"`
	BodyTmpl        string        `json:"body_tmpl"`
	Kind            Kind          `json:"kind"`
	DefaultChannels []ChannelType `json:"default_channels"`
	RequiredVars    []string      `json:"required_vars"`
	CreatedAt       time.Time     `json:"created_at"` // UTC
	UpdatedAt       time.Time     `json:"updated_at"` // UTC
}

type (
	// ChannelConfig is a tagged union: exactly one variant matching the owning
	// Channel's type must be set. Keeping the variants typed (instead of a raw
	// key/value bag) surfaces config mistakes before dispatch.
	ChannelConfig struct {
		Email *EmailConfig `json:"email,omitempty"`
		SMS   *SMSConfig   `json:"sms,omitempty"`
		Push  *PushConfig  `json:"push,omitempty"`
		Chat  *ChatConfig  `json:"chat,omitempty"`
		InApp *InAppConfig `json:"in_app,omitempty"`
	}

	EmailConfig struct {
		Host string `json:"host"`
		Port int    `json:"port"`
		TLS  bool   `json:"tls"`
		From string `json:"from"`
	}

	SMSConfig struct {
		Endpoint string `json:"endpoint"`
		APIKey   string `json:"api_key"`
		Sender   string `json:"sender"`
	}

	PushConfig struct {
		Endpoint string `json:"endpoint"`
		APIKey   string `json:"api_key"`
	}

	ChatConfig struct {
		Endpoint string `json:"endpoint"`
		BotToken string `json:"bot_token"`
		ChatID   int64  `json:"chat_id"`
	}

	InAppConfig struct{}
)

// Validate checks that exactly the variant for typ is set.
func (c ChannelConfig) Validate(typ ChannelType) error {
	variants := map[ChannelType]bool{
		ChannelEmail: c.Email != nil,
		ChannelSMS:   c.SMS != nil,
		ChannelPush:  c.Push != nil,
		ChannelChat:  c.Chat != nil,
		ChannelInApp: c.InApp != nil,
	}
	if typ == ChannelInApp && !variants[ChannelInApp] {
		variants[ChannelInApp] = true // in-app needs no config
	}
	for t, set := range variants {
		if t == typ && !set {
			return fmt.Errorf("missing %s config", typ)
		}
		if t != typ && set {
			return fmt.Errorf("unexpected %s config on a %s channel", t, typ)
		}
	}
	return nil
}

// Channel is one configured instance of a delivery medium.
type Channel struct {
	ID        string        `json:"id"`
	Type      ChannelType   `json:"type"`
	Name      string        `json:"name"`
	Config    ChannelConfig `json:"config"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"` // UTC
	UpdatedAt time.Time     `json:"updated_at"` // UTC
}

// ClockTime is a local wall-clock time as minutes since midnight, [0, 1440).
type ClockTime int

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (ClockTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// ClockOf extracts the wall-clock time of t (in t's location).
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Preference holds one user's settings for one notification kind.
// A missing row means: enabled, in-app channel only, no quiet hours.
type Preference struct {
	UserID     string        `json:"user_id"`
	Kind       Kind          `json:"kind"`
	Enabled    bool          `json:"enabled"`
	Channels   []ChannelType `json:"channels"`
	QuietStart *ClockTime    `json:"quiet_start,omitempty"`
	QuietEnd   *ClockTime    `json:"quiet_end,omitempty"`
	CreatedAt  time.Time     `json:"created_at"` // UTC
	UpdatedAt  time.Time     `json:"updated_at"` // UTC
}

// DefaultPreference is the behavior applied when no Preference row exists.
func DefaultPreference(userID string, kind Kind) Preference {
	return Preference{
		UserID:   userID,
		Kind:     kind,
		Enabled:  true,
		Channels: []ChannelType{ChannelInApp},
	}
}

func (p Preference) HasQuietHours() bool {
	return p.QuietStart != nil && p.QuietEnd != nil
}

// InQuietHours reports whether the local wall-clock time `now` falls inside the
// half-open window [QuietStart, QuietEnd). The window may wrap midnight
// (22:00-06:00); QuietStart == QuietEnd means the window covers the whole day.
func (p Preference) InQuietHours(now ClockTime) bool {
	if !p.HasQuietHours() {
		return false
	}
	start, end := *p.QuietStart, *p.QuietEnd
	if start == end {
		return true
	}
	if start < end {
		return now >= start && now < end
	}
	// wraps midnight
	return now >= start || now < end
}

// Notification is one recipient's record of a dispatched event. It is created
// before any delivery attempt so the in-app/read-state record always exists,
// and is never deleted by the engine.
type Notification struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Kind         Kind              `json:"kind"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	TemplateName string            `json:"template_name,omitempty"` // empty for ad hoc sends
	IsRead       bool              `json:"is_read"`
	ReadAt       time.Time         `json:"read_at,omitempty"` // zero until read; UTC
	CreatedAt    time.Time         `json:"created_at"`        // UTC
	Attempts     []DeliveryAttempt `json:"attempts,omitempty"`
}

// DeliveryAttempt is the append-only record of one (notification, channel)
// pairing and its outcome.
type DeliveryAttempt struct {
	ID             string        `json:"id"`
	NotificationID string        `json:"notification_id"`
	ChannelID      string        `json:"channel_id,omitempty"` // empty when no instance was resolved (suppressed, in-app)
	ChannelType    ChannelType   `json:"channel_type"`
	Status         AttemptStatus `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	AttemptedAt    time.Time     `json:"attempted_at"` // UTC
}
