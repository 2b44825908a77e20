package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/couple-devotional/pkg/logger"
)

// HandleStart answers any private message with the chat id the user registers
// as their push token in the app.
func HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.Chat.ID == 0 {
		return
	}
	chatID := update.Message.Chat.ID
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("Seu código de notificação é %d. Cole-o no app para receber avisos do seu parceiro.", chatID),
	})
	if err != nil {
		logger.Warn("failed to answer telegram start", "chat_id", chatID, "error", err)
	}
}
