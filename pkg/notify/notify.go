// Package notify delivers best-effort user notifications over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"gorm.io/gorm"
)

// Notifier sends a short message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, string) error { return nil }

// MessageSender abstracts Telegram message delivery.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// BotSender adapts a go-telegram bot to MessageSender.
type BotSender struct {
	B *bot.Bot
}

func (s BotSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := s.B.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

// TelegramNotifier sends to the chat id stored as the user's push token.
// Users without a token are skipped silently.
type TelegramNotifier struct {
	db     *gorm.DB
	sender MessageSender
}

func NewTelegramNotifier(gdb *gorm.DB, sender MessageSender) *TelegramNotifier {
	return &TelegramNotifier{db: gdb, sender: sender}
}

func (n *TelegramNotifier) Notify(ctx context.Context, userID, title, body string) error {
	var user db.User
	err := n.db.WithContext(ctx).Select("id", "push_token").First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load push token: %w", err)
	}
	token := strings.TrimSpace(user.PushToken)
	if token == "" {
		logger.Debug("no push token, skipping notification", "user_id", userID)
		return nil
	}
	chatID, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		logger.Warn("push token is not a telegram chat id", "user_id", userID)
		return nil
	}

	text := body
	if title != "" {
		text = title + "\n" + body
	}
	if err := n.sender.SendMessage(ctx, chatID, text); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
