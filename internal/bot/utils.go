package bot

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ivyreader/internal/models"
	"ivyreader/internal/reading"
	"ivyreader/internal/stats"
)

// sendMessage sends a message, logging delivery failures
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	if b.api == nil {
		return // For testing
	}

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID),
		)
	}
}

// reply sends plain text to a chat
func (b *Bot) reply(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

// replyError tells the user what went wrong without leaking storage details
func (b *Bot) replyError(chatID int64, op string, err error) {
	switch {
	case errors.Is(err, reading.ErrInvalidSession),
		errors.Is(err, reading.ErrInvalidBook),
		errors.Is(err, reading.ErrInvalidGoal):
		b.reply(chatID, "❌ "+err.Error())
	case errors.Is(err, reading.ErrBookNotFound):
		b.reply(chatID, "❌ Book not found. Use /books to see your shelf.")
	case errors.Is(err, stats.ErrStorageUnavailable):
		b.logger.Error("Stats refresh failed", zap.String("op", op), zap.Error(err))
		b.reply(chatID, "⚠️ Couldn't refresh your stats right now. Try /recalc in a moment.")
	default:
		b.logger.Error("Bot operation failed", zap.String("op", op), zap.Error(err))
		b.reply(chatID, "Something went wrong. Please try again later.")
	}
}

func (b *Bot) getState(userID int64) (*ConversationState, bool) {
	b.statesMu.RLock()
	defer b.statesMu.RUnlock()
	state, ok := b.states[userID]
	return state, ok
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}

// lockUser blocks until no other update of userID is being handled and
// returns the matching unlock
func (b *Bot) lockUser(userID int64) func() {
	b.userLocksMu.Lock()
	mu, ok := b.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		b.userLocks[userID] = mu
	}
	b.userLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// bookKeyboard lays books out two per row, each button carrying prefix:<id>
func bookKeyboard(books []models.Book, prefix string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var currentRow []tgbotapi.InlineKeyboardButton
	for i, book := range books {
		button := tgbotapi.NewInlineKeyboardButtonData(
			book.Title,
			prefix+":"+book.ID,
		)
		currentRow = append(currentRow, button)

		if len(currentRow) == 2 || i == len(books)-1 {
			rows = append(rows, currentRow)
			currentRow = []tgbotapi.InlineKeyboardButton{}
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// filterBooks keeps books whose status is one of statuses
func filterBooks(books []models.Book, statuses ...models.BookStatus) []models.Book {
	var out []models.Book
	for _, book := range books {
		for _, s := range statuses {
			if book.Status == s {
				out = append(out, book)
				break
			}
		}
	}
	return out
}

// parsePageRange parses "A-B" into start and end pages
func parsePageRange(text string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(text), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected START-END, got %q", text)
	}

	var start, end int
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &start); err != nil {
		return 0, 0, fmt.Errorf("invalid start page %q", parts[0])
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &end); err != nil {
		return 0, 0, fmt.Errorf("invalid end page %q", parts[1])
	}
	return start, end, nil
}

func formatProgress(book models.Book) string {
	if book.TotalPages > 0 {
		return fmt.Sprintf("%d/%d", book.CurrentPage, book.TotalPages)
	}
	return fmt.Sprintf("p. %d", book.CurrentPage)
}

// formatSessions lists sessions with dates shown in loc
func formatSessions(sessions []models.ReadingSession, titles map[string]string, loc *time.Location) string {
	var text strings.Builder
	text.WriteString("Last reading sessions:\n\n")
	for i, s := range sessions {
		title, ok := titles[s.BookID]
		if !ok {
			title = "(deleted book)"
		}
		text.WriteString(fmt.Sprintf("%d. %s - %s, pp. %d-%d, %d min\n",
			i+1,
			s.CreatedAt.In(loc).Format("2006-01-02"),
			title,
			s.StartPage,
			s.EndPage,
			s.DurationMinutes))
	}
	return text.String()
}

func formatStats(stats models.UserStats, insights models.ReadingInsights, loc *time.Location) string {
	var text strings.Builder
	text.WriteString("📊 Reading Statistics\n\n")
	text.WriteString(fmt.Sprintf("🔥 Current streak: %d day(s)\n", stats.CurrentStreak))
	text.WriteString(fmt.Sprintf("🏆 Longest streak: %d day(s)\n", insights.LongestStreak))
	text.WriteString(fmt.Sprintf("📖 Pages read: %d\n", stats.TotalPagesRead))
	text.WriteString(fmt.Sprintf("⏱ Minutes read: %d\n", stats.TotalMinutesRead))
	text.WriteString(fmt.Sprintf("✅ Books completed: %d\n", stats.BooksCompleted))

	if stats.LastReadDate != nil {
		text.WriteString(fmt.Sprintf("📅 Last read: %s\n", stats.LastReadDate.In(loc).Format("2006-01-02 15:04")))
	}

	if insights.SessionCount > 0 {
		text.WriteString(fmt.Sprintf("\nSessions: %d (mean %.1f min, median %.1f min)\n",
			insights.SessionCount, insights.MeanSessionMinutes, insights.MedianSessionMinutes))
		text.WriteString(fmt.Sprintf("Pace: %.1f pages/hour\n", insights.PagesPerHour))
	}

	goal := "not yet"
	if insights.DailyGoalMet {
		goal = "met 🎉"
	}
	text.WriteString(fmt.Sprintf("\n🎯 Today: %d/%d min (%s)", insights.TodayMinutes, stats.DailyGoalMinutes, goal))
	return text.String()
}
