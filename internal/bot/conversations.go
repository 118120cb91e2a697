package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ivyreader/internal/reading"
	"ivyreader/internal/stats"
)

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Command {
	case "new_book":
		b.handleNewBookConversation(ctx, message, state)
	case "log":
		b.handleLogConversation(ctx, message, state)
	}

	// Clean up completed conversations
	if state.Step == stepDone {
		b.clearState(message.From.ID)
	}
}

// handleNewBookConversation handles the new book multi-step process
func (b *Bot) handleNewBookConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Step {
	case stepNewBookTitle:
		title := strings.TrimSpace(message.Text)
		if title == "" {
			b.reply(message.Chat.ID, "The title can't be empty. Please enter the book title:")
			return
		}

		state.Data["title"] = title
		state.Step = stepNewBookPages
		b.reply(message.Chat.ID, "How many pages does it have? Send 0 if you don't know.")

	case stepNewBookPages:
		pages, err := strconv.Atoi(strings.TrimSpace(message.Text))
		if err != nil || pages < 0 {
			b.reply(message.Chat.ID, "❌ Please enter the page count as a whole number, e.g. 320")
			return
		}

		title := state.Data["title"].(string)
		book, err := b.tracker.AddBook(ctx, message.From.ID, title, "", pages)
		if err != nil {
			b.replyError(message.Chat.ID, "add book", err)
		} else {
			b.reply(message.Chat.ID, fmt.Sprintf("Book added to your queue!\nTitle: %s\nPages: %d", book.Title, book.TotalPages))
		}

		state.Step = stepDone
	}
}

// handleLogConversation handles the log session multi-step process
func (b *Bot) handleLogConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Step {
	case stepLogPickBook:
		b.reply(message.Chat.ID, "Please pick a book using the buttons above.")

	case stepLogPages:
		start, end, err := parsePageRange(message.Text)
		if err != nil {
			b.reply(message.Chat.ID, "❌ Invalid page range. Please use START-END\n\nExample: 120-145")
			return
		}
		if end < start {
			b.reply(message.Chat.ID, "❌ The end page must not be before the start page. Please use START-END")
			return
		}

		state.Data["start_page"] = start
		state.Data["end_page"] = end
		state.Step = stepLogMinutes
		b.reply(message.Chat.ID, "⏱ How many minutes did you read?")

	case stepLogMinutes:
		minutes, err := strconv.Atoi(strings.TrimSpace(message.Text))
		if err != nil || minutes <= 0 {
			b.reply(message.Chat.ID, "❌ Please enter a positive number of minutes, e.g. 25")
			return
		}

		input := reading.LogSessionInput{
			UserID:          message.From.ID,
			BookID:          state.Data["book_id"].(string),
			StartPage:       state.Data["start_page"].(int),
			EndPage:         state.Data["end_page"].(int),
			DurationMinutes: minutes,
		}
		b.logSession(ctx, message.Chat.ID, input, state.Data["book_title"].(string))

		state.Step = stepDone
	}
}

// logSession records the session and reports the refreshed stats
func (b *Bot) logSession(ctx context.Context, chatID int64, input reading.LogSessionInput, title string) {
	session, updated, err := b.tracker.LogSession(ctx, input)
	if err != nil {
		if session != nil && errors.Is(err, stats.ErrStorageUnavailable) {
			b.logger.Error("Session saved but stats refresh failed",
				zap.Error(err),
				zap.Int64("user_id", input.UserID),
				zap.String("session_id", session.ID),
			)
			b.reply(chatID, "✅ Session saved, but I couldn't refresh your stats. Try /recalc in a moment.")
			return
		}
		b.replyError(chatID, "log session", err)
		return
	}

	text := fmt.Sprintf("✅ Reading session recorded!\n\n📚 Book: %s\n📖 Pages: %d-%d (%d)\n⏱ Minutes: %d\n\n🔥 Streak: %d day(s)\n📊 Total pages: %d",
		title, session.StartPage, session.EndPage, session.PagesRead(), session.DurationMinutes,
		updated.CurrentStreak, updated.TotalPagesRead)
	b.reply(chatID, text)
}
