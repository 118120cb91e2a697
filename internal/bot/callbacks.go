package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ivyreader/internal/models"
)

// handleLogBookCallback processes book selection for a new session
func (b *Bot) handleLogBookCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != "log" || state.Step != stepLogPickBook {
		return
	}

	bookID := strings.TrimPrefix(query.Data, "log_book:")
	books, err := b.tracker.ListBooks(ctx, query.From.ID)
	if err != nil {
		b.logger.Error("Failed to list books in log callback",
			zap.Error(err),
			zap.Int64("user_id", query.From.ID),
		)
		b.replyError(query.Message.Chat.ID, "list books", err)
		state.Step = stepDone
		return
	}

	var selected *models.Book
	for i := range books {
		if books[i].ID == bookID {
			selected = &books[i]
			break
		}
	}
	if selected == nil {
		b.reply(query.Message.Chat.ID, "Error: Invalid book selection")
		state.Step = stepDone
		return
	}

	state.Data["book_id"] = selected.ID
	state.Data["book_title"] = selected.Title
	state.Step = stepLogPages

	b.reply(query.Message.Chat.ID, fmt.Sprintf("📖 %s\nYou were on page %d. Which pages did you read? Use START-END\n\nExample: %d-%d",
		selected.Title, selected.CurrentPage, selected.CurrentPage, selected.CurrentPage+20))
}

// handleDoneBookCallback marks the selected book as completed
func (b *Bot) handleDoneBookCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != "done" {
		return
	}

	bookID := strings.TrimPrefix(query.Data, "done_book:")
	book, err := b.tracker.SetBookStatus(ctx, query.From.ID, bookID, models.StatusCompleted)
	if err != nil {
		b.replyError(query.Message.Chat.ID, "complete book", err)
	} else {
		b.reply(query.Message.Chat.ID, fmt.Sprintf("🎉 Finished \"%s\"! Nice work.", book.Title))
	}

	state.Step = stepDone
}
