package notif

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type suppressedChannel struct {
	typ    ChannelType
	reason string
}

// selectChannels applies the recipient's Preference row (or the default) to the
// requested channel set and returns the channels to attempt plus the ones to
// record as suppressed.
//
//  1. No Preference row: enabled, in-app only.
//  2. Disabled: every candidate channel is suppressed ("disabled-by-preference");
//     the Notification row is still created by the caller.
//  3. Intersect requested with the user's selected channels; an empty
//     intersection falls back to in-app alone - the channel of last resort, so
//     the recipient can always discover the event later.
//  4. Quiet hours suppress every surviving channel except in-app, which is
//     passive/pull and exempt.
//
// An empty requested set means "no explicit request" and resolves to the
// user's own selected channels.
func (e *Engine) selectChannels(ctx context.Context, userID string, kind Kind, requested []ChannelType) (allowed []ChannelType, suppressed []suppressedChannel) {
	pref, err := e.prefs.GetPreference(ctx, userID, kind)
	if err != nil {
		if errors.Cause(err) != ErrPreferenceNotFound {
			// a broken preference store must not block dispatch; fall back to defaults
			e.log.Error(fmt.Sprintf("loading preference (%s, %s): %v", userID, kind, err), err)
		}
		pref = DefaultPreference(userID, kind)
	}

	candidates := dedupeChannels(requested)
	if len(candidates) == 0 {
		candidates = dedupeChannels(pref.Channels)
	}

	if !pref.Enabled {
		for _, typ := range candidates {
			suppressed = append(suppressed, suppressedChannel{typ: typ, reason: ReasonDisabledByPreference})
		}
		return nil, suppressed
	}

	selected := intersectChannels(candidates, pref.Channels)
	if len(selected) == 0 {
		selected = []ChannelType{ChannelInApp}
	}

	var quiet bool
	if pref.HasQuietHours() {
		quiet = pref.InQuietHours(ClockOf(e.localTime(ctx, userID)))
	}

	for _, typ := range selected {
		if quiet && typ != ChannelInApp {
			suppressed = append(suppressed, suppressedChannel{typ: typ, reason: ReasonQuietHours})
			continue
		}
		allowed = append(allowed, typ)
	}
	return allowed, suppressed
}

// localTime computes the recipient's current local time, falling back to the
// system-wide default zone when the directory does not know their timezone.
func (e *Engine) localTime(ctx context.Context, userID string) time.Time {
	loc, err := e.directory.TimezoneOf(ctx, userID)
	if err != nil || loc == nil {
		loc = e.defaultTZ
	}
	return nowFunc().In(loc)
}

func dedupeChannels(types []ChannelType) []ChannelType {
	if len(types) == 0 {
		return nil
	}
	seen := make(map[ChannelType]bool, len(types))
	out := make([]ChannelType, 0, len(types))
	for _, typ := range types {
		if !seen[typ] {
			seen[typ] = true
			out = append(out, typ)
		}
	}
	return out
}

// intersectChannels keeps a's order.
func intersectChannels(a, b []ChannelType) []ChannelType {
	inB := make(map[ChannelType]bool, len(b))
	for _, typ := range b {
		inB[typ] = true
	}
	var out []ChannelType
	for _, typ := range a {
		if inB[typ] {
			out = append(out, typ)
		}
	}
	return out
}
