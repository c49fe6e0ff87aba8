package channelsvc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
)

// smtpAdapter delivers the email channel straight to an SMTP host; used when a
// school runs its own relay instead of Sendgrid. The channel's EmailConfig
// (host/port/TLS/from) drives the connection.
type smtpAdapter struct {
	defaultFrom string
	subjPrefix  string
}

var _ notif.Adapter = (*smtpAdapter)(nil)

func NewSMTPAdapter(conf *core.Config) *smtpAdapter {
	return &smtpAdapter{
		defaultFrom: conf.DefaultFromEmail.Address,
		subjPrefix:  "[" + conf.AppName + "] ",
	}
}

func (svc *smtpAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	cfg := ch.Config.Email
	if cfg == nil {
		return errors.New("channel has no email config")
	}
	if rcpt.Email == "" {
		return errors.New("recipient has no email address")
	}

	from := cfg.From
	if from == "" {
		from = svc.defaultFrom
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	msg := new(strings.Builder)
	_, _ = fmt.Fprintf(msg, "From: %s\r\n", from)
	_, _ = fmt.Fprintf(msg, "To: %s\r\n", rcpt.Email)
	_, _ = fmt.Fprintf(msg, "Subject: %s\r\n", svc.subjPrefix+title)
	_, _ = fmt.Fprintf(msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprint(msg, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprint(msg, "Content-Type: text/plain; charset=utf-8\r\n")
	_, _ = fmt.Fprint(msg, "\r\n")
	_, _ = fmt.Fprintf(msg, "%s\r\n", body)

	conn, err := svc.dial(ctx, addr, cfg)
	if err != nil {
		return errors.Wrap(err, "dialing smtp host")
	}
	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer func() { _ = c.Close() }()

	if err = c.Mail(from); err != nil {
		return errors.Wrap(err, "smtp MAIL")
	}
	if err = c.Rcpt(rcpt.Email); err != nil {
		return errors.Wrap(err, "smtp RCPT")
	}
	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "smtp DATA")
	}
	if _, err = w.Write([]byte(msg.String())); err != nil {
		return errors.Wrap(err, "writing message")
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "closing message")
	}
	return c.Quit()
}

func (svc *smtpAdapter) dial(ctx context.Context, addr string, cfg *notif.EmailConfig) (net.Conn, error) {
	d := &net.Dialer{}
	if cfg.TLS {
		return (&tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: cfg.Host}}).DialContext(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}
