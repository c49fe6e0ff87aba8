package channelsvc

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/trezcool/shule/core/notif"
)

// consoleAdapter prints deliveries to stdout; used in dev and tests in place
// of real vendor adapters.
type consoleAdapter struct {
	typ notif.ChannelType
	out io.Writer
}

var _ notif.Adapter = (*consoleAdapter)(nil)

func NewConsoleAdapter(typ notif.ChannelType) *consoleAdapter {
	return &consoleAdapter{typ: typ, out: os.Stdout}
}

func (svc *consoleAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	_, err := fmt.Fprintf(
		svc.out,
		"-------------------------------------------------------\n"+
			"Channel: %s (%s)\nTo: %s <%s>\nTitle: %s\n\n%s\n"+
			"-------------------------------------------------------\n",
		svc.typ, ch.Name, rcpt.Name, rcpt.Email, title, body,
	)
	return err
}
