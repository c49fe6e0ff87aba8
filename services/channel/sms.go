package channelsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
)

// smsAdapter delivers the sms channel through an HTTP gateway (JSON in, JSON
// out). The gateway endpoint/key come from the channel config, falling back to
// the app config when unset.
type smsAdapter struct {
	client   *http.Client
	endpoint string
	key      string
	sender   string
}

var _ notif.Adapter = (*smsAdapter)(nil)

func NewSMSAdapter(conf *core.Config) *smsAdapter {
	return &smsAdapter{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: conf.Notification.SMSGatewayURL,
		key:      conf.Notification.SMSGatewayKey,
		sender:   conf.Notification.SMSSender,
	}
}

func (svc *smsAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	if rcpt.Phone == "" {
		return errors.New("recipient has no phone number")
	}

	endpoint, key, sender := svc.endpoint, svc.key, svc.sender
	if cfg := ch.Config.SMS; cfg != nil {
		if cfg.Endpoint != "" {
			endpoint = cfg.Endpoint
		}
		if cfg.APIKey != "" {
			key = cfg.APIKey
		}
		if cfg.Sender != "" {
			sender = cfg.Sender
		}
	}
	if endpoint == "" {
		return errors.New("sms gateway endpoint not configured")
	}

	payload := struct {
		To     string `json:"to"`
		Sender string `json:"sender,omitempty"`
		Text   string `json:"text"`
	}{
		To:     rcpt.Phone,
		Sender: sender,
		Text:   title + "\n" + body,
	}
	return postJSON(ctx, svc.client, endpoint, key, payload)
}

// postJSON posts a JSON payload with Bearer auth and fails on non-2xx.
// Shared by the sms and push gateway adapters.
func postJSON(ctx context.Context, client *http.Client, endpoint, key string, payload interface{}) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return errors.Wrap(err, "encoding payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	res, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "calling gateway")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		b, _ := ioutil.ReadAll(io.LimitReader(res.Body, 1<<10))
		return errors.Errorf("gateway error - status: %d - body: %s", res.StatusCode, b)
	}
	return nil
}
