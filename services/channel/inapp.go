package channelsvc

import (
	"context"

	"github.com/trezcool/shule/core/notif"
)

// inAppAdapter pushes a realtime nudge over the websocket hub. The stored
// notification row is the source of truth, so a user with no open connection
// still gets the notification on next fetch; Deliver therefore never fails.
type inAppAdapter struct {
	hub *Hub
}

var _ notif.Adapter = (*inAppAdapter)(nil)

func NewInAppAdapter(hub *Hub) *inAppAdapter {
	return &inAppAdapter{hub: hub}
}

func (svc *inAppAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	if svc.hub != nil {
		svc.hub.Send(rcpt.UserID, map[string]string{
			"event": "notification",
			"title": title,
			"body":  body,
		})
	}
	return nil
}
