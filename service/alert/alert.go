// Package alert notifies the operator about deployment problems the
// end user cannot fix, such as a missing content address.
package alert

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"brandshell/service/util"
)

type Notifier interface {
	Alert(ctx context.Context, message string) error
}

// Noop drops alerts. It is used when no alert channel is configured.
type Noop struct{}

func (Noop) Alert(context.Context, string) error { return nil }

type TelegramOptions struct {
	BotToken string
	ChatID   int64
	Brand    string
	// Every and Burst throttle alerts; a crash-looping shell must not
	// flood the operator's chat.
	Every time.Duration
	Burst int

	BotOptions []telego.BotOption
	Logger     *slog.Logger
}

// Telegram sends alerts to one Telegram chat.
type Telegram struct {
	bot     *telego.Bot
	chatID  int64
	brand   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.BotToken == "" || opts.ChatID == 0 {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}
	if opts.Every <= 0 {
		opts.Every = time.Minute
	}
	if opts.Burst <= 0 {
		opts.Burst = 3
	}
	if opts.Logger == nil {
		opts.Logger = util.DiscardLogger()
	}

	bot, err := telego.NewBot(opts.BotToken, opts.BotOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:     bot,
		chatID:  opts.ChatID,
		brand:   opts.Brand,
		limiter: rate.NewLimiter(rate.Every(opts.Every), opts.Burst),
		logger:  opts.Logger,
	}, nil
}

func (t *Telegram) Alert(ctx context.Context, message string) error {
	if !t.limiter.Allow() {
		t.logger.Debug("Operator alert throttled", "message", message)
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(t.brandName()), html.EscapeString(message))
	msg := tu.Message(tu.ID(t.chatID), text).WithParseMode(telego.ModeHTML)

	if _, err := t.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	t.logger.Info("Sent operator alert", "chat_id", t.chatID)
	return nil
}

func (t *Telegram) brandName() string {
	if t.brand == "" {
		return "brandshell"
	}
	return t.brand
}

var (
	_ Notifier = Noop{}
	_ Notifier = (*Telegram)(nil)
)
