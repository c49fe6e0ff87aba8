package channelsvc

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
)

// pushAdapter delivers the push channel through an HTTP gateway that fans out
// to the recipient's registered devices by user ID.
type pushAdapter struct {
	client   *http.Client
	endpoint string
	key      string
}

var _ notif.Adapter = (*pushAdapter)(nil)

func NewPushAdapter(conf *core.Config) *pushAdapter {
	return &pushAdapter{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: conf.Notification.PushGatewayURL,
		key:      conf.Notification.PushGatewayKey,
	}
}

func (svc *pushAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	endpoint, key := svc.endpoint, svc.key
	if cfg := ch.Config.Push; cfg != nil {
		if cfg.Endpoint != "" {
			endpoint = cfg.Endpoint
		}
		if cfg.APIKey != "" {
			key = cfg.APIKey
		}
	}
	if endpoint == "" {
		return errors.New("push gateway endpoint not configured")
	}

	payload := struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	}{
		UserID: rcpt.UserID,
		Title:  title,
		Body:   body,
	}
	return postJSON(ctx, svc.client, endpoint, key, payload)
}
