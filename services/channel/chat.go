package channelsvc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notif"
)

// chatAdapter delivers the chat channel to a Telegram group (e.g. a staff
// announcements chat). Bots are created lazily and cached per token so a
// channel config swap picks up the new bot without a restart.
type chatAdapter struct {
	defaultToken  string
	defaultChatID int64

	mu   sync.Mutex
	bots map[string]*tele.Bot // token -> bot
}

var _ notif.Adapter = (*chatAdapter)(nil)

func NewChatAdapter(conf *core.Config) *chatAdapter {
	return &chatAdapter{
		defaultToken:  conf.Notification.TelegramToken,
		defaultChatID: conf.Notification.TelegramChatID,
		bots:          make(map[string]*tele.Bot),
	}
}

func (svc *chatAdapter) Deliver(ctx context.Context, rcpt notif.Recipient, title, body string, ch notif.Channel) error {
	token, chatID := svc.defaultToken, svc.defaultChatID
	if cfg := ch.Config.Chat; cfg != nil {
		if cfg.BotToken != "" {
			token = cfg.BotToken
		}
		if cfg.ChatID != 0 {
			chatID = cfg.ChatID
		}
	}
	if token == "" || chatID == 0 {
		return errors.New("chat bot token or chat ID not configured")
	}

	bot, err := svc.bot(token)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	chat := &tele.Chat{ID: chatID}
	text := "*" + title + "*\n" + body
	if _, err = bot.Send(chat, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown}); err != nil {
		return errors.Wrap(err, "sending chat message")
	}
	return nil
}

func (svc *chatAdapter) bot(token string) (*tele.Bot, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if bot, ok := svc.bots[token]; ok {
		return bot, nil
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating chat bot")
	}
	svc.bots[token] = bot
	return bot, nil
}
