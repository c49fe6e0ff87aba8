package notif

import (
	"testing"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "08:30", want: 510},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "-1:00", wantErr: true},
		{in: "0830", wantErr: true},
		{in: "", wantErr: true},
		{in: "aa:bb", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestPreferenceInQuietHours(t *testing.T) {
	clock := func(s string) *ClockTime {
		c, err := ParseClock(s)
		if err != nil {
			t.Fatalf("ParseClock(%q) failed: %v", s, err)
		}
		return &c
	}
	at := func(s string) ClockTime { return *clock(s) }

	tests := []struct {
		name       string
		start, end *ClockTime
		now        ClockTime
		want       bool
	}{
		{name: "no window", now: at("03:00"), want: false},
		{name: "same-day window inside", start: clock("12:00"), end: clock("14:00"), now: at("13:00"), want: true},
		{name: "same-day window at start", start: clock("12:00"), end: clock("14:00"), now: at("12:00"), want: true},
		{name: "same-day window at end is outside", start: clock("12:00"), end: clock("14:00"), now: at("14:00"), want: false},
		{name: "same-day window outside", start: clock("12:00"), end: clock("14:00"), now: at("09:00"), want: false},
		{name: "midnight wrap late evening", start: clock("22:00"), end: clock("06:00"), now: at("23:00"), want: true},
		{name: "midnight wrap early morning", start: clock("22:00"), end: clock("06:00"), now: at("02:00"), want: true},
		{name: "midnight wrap at end is outside", start: clock("22:00"), end: clock("06:00"), now: at("06:00"), want: false},
		{name: "midnight wrap midday outside", start: clock("22:00"), end: clock("06:00"), now: at("12:00"), want: false},
		{name: "start equals end covers whole day", start: clock("08:00"), end: clock("08:00"), now: at("12:00"), want: true},
		{name: "start equals end covers its own instant", start: clock("08:00"), end: clock("08:00"), now: at("08:00"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pref := Preference{QuietStart: tt.start, QuietEnd: tt.end}
			if got := pref.InQuietHours(tt.now); got != tt.want {
				t.Errorf("InQuietHours(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestChannelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		typ     ChannelType
		config  ChannelConfig
		wantErr bool
	}{
		{name: "email ok", typ: ChannelEmail, config: ChannelConfig{Email: &EmailConfig{Host: "smtp.test"}}},
		{name: "email missing", typ: ChannelEmail, config: ChannelConfig{}, wantErr: true},
		{name: "email with extra sms", typ: ChannelEmail, config: ChannelConfig{Email: &EmailConfig{}, SMS: &SMSConfig{}}, wantErr: true},
		{name: "sms ok", typ: ChannelSMS, config: ChannelConfig{SMS: &SMSConfig{Endpoint: "https://sms.test"}}},
		{name: "chat ok", typ: ChannelChat, config: ChannelConfig{Chat: &ChatConfig{BotToken: "tok", ChatID: 1}}},
		{name: "in-app needs no config", typ: ChannelInApp, config: ChannelConfig{}},
		{name: "in-app explicit config ok", typ: ChannelInApp, config: ChannelConfig{InApp: &InAppConfig{}}},
		{name: "in-app with email config", typ: ChannelInApp, config: ChannelConfig{Email: &EmailConfig{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate(tt.typ)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%s) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
			}
		})
	}
}
