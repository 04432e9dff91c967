package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramOptions configure the Telegram channel.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	// APIEndpoint is a format string taking token and method, see tgbotapi.APIEndpoint.
	APIEndpoint string
	Timeout     time.Duration
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	opts   TelegramOptions
	client *http.Client
	logger zerolog.Logger

	mu  sync.Mutex
	api *tgbotapi.BotAPI
}

// NewTelegramNotifier constructs the notifier. The bot handshake happens on
// first use.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	return &TelegramNotifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends one message.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	api, err := n.bot()
	if err != nil {
		return err
	}

	msg, err := n.message(renderMessage(note))
	if err != nil {
		return err
	}
	msg.DisableWebPagePreview = true

	if _, err := api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Info().
		Str("offer_id", note.OfferID).
		Str("kind", string(note.Kind)).
		Msg("alert delivered (telegram)")
	return nil
}

func (n *TelegramNotifier) message(text string) (tgbotapi.MessageConfig, error) {
	chat := strings.TrimSpace(n.opts.ChatID)
	if chat == "" {
		return tgbotapi.MessageConfig{}, errors.New("telegram chat id not configured")
	}
	if strings.HasPrefix(chat, "@") {
		return tgbotapi.NewMessageToChannel(chat, text), nil
	}
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("parse telegram chat id: %w", err)
	}
	return tgbotapi.NewMessage(id, text), nil
}

func (n *TelegramNotifier) bot() (*tgbotapi.BotAPI, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.api != nil {
		return n.api, nil
	}
	api, err := tgbotapi.NewBotAPIWithClient(n.opts.BotToken, n.opts.APIEndpoint, n.client)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	n.api = api
	return api, nil
}

var _ Notifier = (*TelegramNotifier)(nil)
