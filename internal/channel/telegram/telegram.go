// Package telegram adapts a Telegram bot connection into the
// Observer/event ingress contract (spec section 4.6): each inbound
// message becomes one internal/observer.Observer.Ingest call. Nothing
// here writes a Task/Thought directly; that remains the Observer's job.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/emooreatx/CIRISAgent-sub009/internal/observer"
)

// Ingester matches internal/observer.Observer.Ingest.
type Ingester interface {
	Ingest(ctx context.Context, msg observer.IncomingMessage) (string, error)
}

// Sender delivers an outbound message; satisfied by this channel's own bot
// handle (a side-effect sink publishes to the bus, a transport adapter
// like this one subscribes and actually sends).
type Sender interface {
	Send(channelID, content string) error
}

// Channel polls a Telegram bot for updates and feeds each allowed user's
// message into an Observer.
type Channel struct {
	token      string
	allowedIDs map[int64]struct{}
	ing        Ingester
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI
}

// New builds a Channel. allowedIDs is the set of Telegram user ids
// permitted to message the agent; an empty set allows everyone.
func New(token string, allowedIDs []int64, ing Ingester, logger *slog.Logger) *Channel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{token: token, allowedIDs: allowed, ing: ing, logger: logger}
}

func (c *Channel) Name() string { return "telegram" }

// Send delivers content to chatID, parsed as an int64 Telegram chat id.
func (c *Channel) Send(channelID, content string) error {
	var chatID int64
	if _, err := fmt.Sscanf(channelID, "%d", &chatID); err != nil {
		return fmt.Errorf("telegram: invalid channel id %q: %w", channelID, err)
	}
	msg := tgbotapi.NewMessage(chatID, content)
	_, err := c.bot.Send(msg)
	return err
}

// Start connects to Telegram and polls for updates until ctx is canceled,
// reconnecting with exponential backoff on transient failure.
func (c *Channel) Start(ctx context.Context) error {
	var err error
	c.bot, err = tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("telegram: init: %w", err)
	}
	c.logger.Info("telegram channel started", "user", c.bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := c.bot.GetUpdatesChan(u)

		pollErr := c.poll(ctx, updates)
		c.bot.StopReceivingUpdates()
		if pollErr == nil {
			return nil
		}
		c.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Channel) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram: update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				c.handleMessage(ctx, update.Message)
			}
		case <-timer.C:
			return fmt.Errorf("telegram: no updates for %v, possible disconnect", stallTimeout)
		}
	}
}

func (c *Channel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}
	if len(c.allowedIDs) > 0 {
		if _, ok := c.allowedIDs[msg.From.ID]; !ok {
			c.logger.Warn("telegram access denied", "user_id", msg.From.ID, "user_name", msg.From.UserName)
			return
		}
	}

	var repliedTo string
	if msg.ReplyToMessage != nil {
		repliedTo = fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ReplyToMessage.MessageID)
	}

	in := observer.IncomingMessage{
		MessageID:           fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		ChannelID:           fmt.Sprintf("%d", msg.Chat.ID),
		AuthorID:            fmt.Sprintf("%d", msg.From.ID),
		AuthorName:          msg.From.UserName,
		Content:             content,
		OriginService:       "telegram",
		Timestamp:           msg.Time(),
		RepliedToMessageID:  repliedTo,
	}
	if _, err := c.ing.Ingest(ctx, in); err != nil {
		c.logger.Error("telegram: ingest failed", "error", err)
	}
}
