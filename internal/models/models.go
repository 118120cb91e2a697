package models

import "time"

// BookStatus is the shelf a book currently sits on
type BookStatus string

const (
	StatusReading   BookStatus = "reading"
	StatusQueue     BookStatus = "queue"
	StatusCompleted BookStatus = "completed"
)

// Valid reports whether s is one of the known statuses
func (s BookStatus) Valid() bool {
	switch s {
	case StatusReading, StatusQueue, StatusCompleted:
		return true
	}
	return false
}

// DefaultDailyGoalMinutes is used when a stats row is created lazily
const DefaultDailyGoalMinutes = 20

// Book represents a book on a reader's shelf
type Book struct {
	ID          string     `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	Status      BookStatus `json:"status"`
	TotalPages  int        `json:"total_pages"`
	CurrentPage int        `json:"current_page"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ReadingSession represents one logged reading event
type ReadingSession struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	BookID          string    `json:"book_id"`
	StartPage       int       `json:"start_page"`
	EndPage         int       `json:"end_page"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
}

// PagesRead returns the page delta of the session, never negative
func (s ReadingSession) PagesRead() int {
	if s.EndPage < s.StartPage {
		return 0
	}
	return s.EndPage - s.StartPage
}

// UserStats is the cached aggregate derived from a reader's sessions and books
type UserStats struct {
	UserID           int64      `json:"user_id"`
	CurrentStreak    int        `json:"current_streak"`
	TotalPagesRead   int        `json:"total_pages_read"`
	TotalMinutesRead int        `json:"total_minutes_read"`
	BooksCompleted   int        `json:"books_completed"`
	LastReadDate     *time.Time `json:"last_read_date"`
	DailyGoalMinutes int        `json:"daily_goal_minutes"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DefaultUserStats returns the row created on first access
func DefaultUserStats(userID int64, now time.Time) UserStats {
	return UserStats{
		UserID:           userID,
		DailyGoalMinutes: DefaultDailyGoalMinutes,
		UpdatedAt:        now,
	}
}

// ReadingInsights holds display-only figures computed on read
type ReadingInsights struct {
	SessionCount         int     `json:"session_count"`
	MeanSessionMinutes   float64 `json:"mean_session_minutes"`
	MedianSessionMinutes float64 `json:"median_session_minutes"`
	PagesPerHour         float64 `json:"pages_per_hour"`
	LongestStreak        int     `json:"longest_streak"`
	TodayMinutes         int     `json:"today_minutes"`
	DailyGoalMet         bool    `json:"daily_goal_met"`
}
