package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ivyreader/internal/models"
)

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Welcome to IvyReader! 📚

Available commands:
/new_book - Add a book to your queue
/books - Show your shelf
/log - Log a reading session
/stats - View your reading statistics
/recalc - Rebuild statistics from your history
/last - Show your last 10 sessions
/next - Suggest what to read next
/goal <minutes> - Set your daily reading goal
/done - Mark a book as completed`

	b.reply(message.Chat.ID, text)
}

// handleNewBookStart initiates the new book conversation
func (b *Bot) handleNewBookStart(message *tgbotapi.Message) {
	b.setState(message.From.ID, &ConversationState{
		Command: "new_book",
		Step:    stepNewBookTitle,
		Data:    make(map[string]interface{}),
	})

	b.reply(message.Chat.ID, "Please enter the book title:")
}

// handleBooks lists the user's shelf grouped by status
func (b *Bot) handleBooks(ctx context.Context, message *tgbotapi.Message) {
	books, err := b.tracker.ListBooks(ctx, message.From.ID)
	if err != nil {
		b.replyError(message.Chat.ID, "list books", err)
		return
	}

	if len(books) == 0 {
		b.reply(message.Chat.ID, "Your shelf is empty. Add a book with /new_book")
		return
	}

	var text strings.Builder
	text.WriteString("📚 Your shelf:\n")
	for _, section := range []struct {
		title  string
		status models.BookStatus
	}{
		{"📖 Reading", models.StatusReading},
		{"🕮 Queue", models.StatusQueue},
		{"✅ Completed", models.StatusCompleted},
	} {
		shelf := filterBooks(books, section.status)
		if len(shelf) == 0 {
			continue
		}
		text.WriteString(fmt.Sprintf("\n%s\n", section.title))
		for _, book := range shelf {
			text.WriteString(fmt.Sprintf("• %s (%s)\n", book.Title, formatProgress(book)))
		}
	}

	b.reply(message.Chat.ID, text.String())
}

// handleLogStart initiates the log session conversation
func (b *Bot) handleLogStart(ctx context.Context, message *tgbotapi.Message) {
	books, err := b.tracker.ListBooks(ctx, message.From.ID)
	if err != nil {
		b.replyError(message.Chat.ID, "list books", err)
		return
	}

	books = filterBooks(books, models.StatusReading, models.StatusQueue)
	if len(books) == 0 {
		b.reply(message.Chat.ID, "No books to read. Please add books first with /new_book")
		return
	}

	b.setState(message.From.ID, &ConversationState{
		Command: "log",
		Step:    stepLogPickBook,
		Data:    make(map[string]interface{}),
	})

	msg := tgbotapi.NewMessage(message.Chat.ID, "📚 Which book did you read?")
	msg.ReplyMarkup = bookKeyboard(books, "log_book")
	b.sendMessage(msg)
}

// handleStats shows the cached statistics and insights
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	report, err := b.tracker.Stats(ctx, message.From.ID)
	if err != nil {
		b.replyError(message.Chat.ID, "stats", err)
		return
	}

	b.reply(message.Chat.ID, formatStats(report.Stats, report.Insights, b.tracker.Location()))
}

// handleRecalc rebuilds statistics from the full history
func (b *Bot) handleRecalc(ctx context.Context, message *tgbotapi.Message) {
	updated, err := b.tracker.Recalculate(ctx, message.From.ID)
	if err != nil {
		b.replyError(message.Chat.ID, "recalculate", err)
		return
	}

	b.reply(message.Chat.ID, fmt.Sprintf("🔄 Statistics rebuilt.\n\n🔥 Streak: %d day(s)\n📖 Pages: %d\n⏱ Minutes: %d\n✅ Completed: %d",
		updated.CurrentStreak, updated.TotalPagesRead, updated.TotalMinutesRead, updated.BooksCompleted))
}

// handleLast shows the last 10 reading sessions
func (b *Bot) handleLast(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID

	sessions, err := b.tracker.LastSessions(ctx, userID, 10)
	if err != nil {
		b.replyError(message.Chat.ID, "last sessions", err)
		return
	}

	if len(sessions) == 0 {
		b.reply(message.Chat.ID, "No reading sessions recorded yet.")
		return
	}

	books, err := b.tracker.ListBooks(ctx, userID)
	if err != nil {
		b.replyError(message.Chat.ID, "list books", err)
		return
	}
	titles := make(map[string]string, len(books))
	for _, book := range books {
		titles[book.ID] = book.Title
	}

	b.reply(message.Chat.ID, formatSessions(sessions, titles, b.tracker.Location()))
}

// handleNext suggests which book to read next
func (b *Bot) handleNext(ctx context.Context, message *tgbotapi.Message) {
	next, err := b.tracker.NextBook(ctx, message.From.ID)
	if err != nil {
		b.replyError(message.Chat.ID, "next book", err)
		return
	}

	if next == nil {
		b.reply(message.Chat.ID, "Nothing left to read. Add a book with /new_book")
		return
	}

	b.reply(message.Chat.ID, fmt.Sprintf("Next to read: %s (%s)", next.Title, formatProgress(*next)))
}

// handleGoal sets the daily goal from the command argument
func (b *Bot) handleGoal(ctx context.Context, message *tgbotapi.Message) {
	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		b.reply(message.Chat.ID, "Usage: /goal <minutes>\n\nExample: /goal 30")
		return
	}

	minutes, err := strconv.Atoi(arg)
	if err != nil {
		b.reply(message.Chat.ID, "❌ Please enter the goal as a whole number of minutes.")
		return
	}

	if err := b.tracker.SetDailyGoal(ctx, message.From.ID, minutes); err != nil {
		b.replyError(message.Chat.ID, "set goal", err)
		return
	}

	b.reply(message.Chat.ID, fmt.Sprintf("🎯 Daily goal set to %d minutes.", minutes))
}

// handleDoneStart asks which book to mark completed
func (b *Bot) handleDoneStart(ctx context.Context, message *tgbotapi.Message) {
	books, err := b.tracker.ListBooks(ctx, message.From.ID)
	if err != nil {
		b.replyError(message.Chat.ID, "list books", err)
		return
	}

	books = filterBooks(books, models.StatusReading, models.StatusQueue)
	if len(books) == 0 {
		b.reply(message.Chat.ID, "No unfinished books on your shelf.")
		return
	}

	b.setState(message.From.ID, &ConversationState{
		Command: "done",
		Step:    stepDonePickBook,
		Data:    make(map[string]interface{}),
	})

	msg := tgbotapi.NewMessage(message.Chat.ID, "✅ Which book did you finish?")
	msg.ReplyMarkup = bookKeyboard(books, "done_book")
	b.sendMessage(msg)
}
