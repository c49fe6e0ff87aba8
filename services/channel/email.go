package channelsvc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// emailAdapter routes the email channel by its config: a channel carrying an
// SMTP host goes straight to that relay, anything else goes through Sendgrid.
type emailAdapter struct {
	smtp notif.Adapter
	api  notif.Adapter
}

var _ notif.Adapter = (*emailAdapter)(nil)

func NewEmailAdapter(conf *core.Config) *emailAdapter {
	return &emailAdapter{
		smtp: NewSMTPAdapter(conf),
		api:  NewSendgridAdapter(conf),
	}
}

func (svc *emailAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	if cfg := ch.Config.Email; cfg != nil && cfg.Host != "" {
		return svc.smtp.Deliver(ctx, rcpt, title, body, ch)
	}
	return svc.api.Deliver(ctx, rcpt, title, body, ch)
}

// sendgridAdapter delivers the email channel through the Sendgrid API.
type sendgridAdapter struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

var _ notif.Adapter = (*sendgridAdapter)(nil)

func NewSendgridAdapter(conf *core.Config) *sendgridAdapter {
	from := conf.DefaultFromEmail
	return &sendgridAdapter{
		key:        conf.SendgridAPIKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
	}
}

func (svc *sendgridAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	if rcpt.Email == "" {
		return errors.New("recipient has no email address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := svc.from
	if cfg := ch.Config.Email; cfg != nil && cfg.From != "" {
		from = sgmail.NewEmail("", cfg.From)
	}

	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + title
	p.AddTos(sgmail.NewEmail(rcpt.Name, rcpt.Email))

	m := sgmail.NewV3Mail()
	m.SetFrom(from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", body))

	req := sendgrid.GetRequest(svc.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "sending email")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

// stringer for logs
func (svc *sendgridAdapter) String() string { return fmt.Sprintf("sendgrid(%s)", svc.from.Address) }
