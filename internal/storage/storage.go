package storage

import (
	"context"
	"errors"

	"ivyreader/internal/models"
)

var (
	// ErrUnavailable is wrapped by backends when the data store cannot be reached
	ErrUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
)

// Storage defines the interface for data storage operations
type Storage interface {
	// Book operations
	CreateBook(ctx context.Context, book models.Book) error
	GetBook(ctx context.Context, userID int64, bookID string) (*models.Book, error)
	ListBooksForUser(ctx context.Context, userID int64) ([]models.Book, error)
	UpdateBook(ctx context.Context, book models.Book) error

	// DeleteBook removes the book together with all of its sessions
	DeleteBook(ctx context.Context, userID int64, bookID string) error

	// Session operations
	CreateSession(ctx context.Context, session models.ReadingSession) error

	// ListSessionsForUser returns every session of the user, most recent first.
	// Each call runs a fresh query.
	ListSessionsForUser(ctx context.Context, userID int64) ([]models.ReadingSession, error)

	// GetLastSessions returns the user's N most recent sessions
	GetLastSessions(ctx context.Context, userID int64, limit int) ([]models.ReadingSession, error)

	// Statistics operations

	// ReadUserStats returns the user's stats row, inserting a default row first
	// if none exists yet
	ReadUserStats(ctx context.Context, userID int64) (*models.UserStats, error)

	// WriteUserStats overwrites CurrentStreak, TotalPagesRead, TotalMinutesRead,
	// BooksCompleted and LastReadDate and bumps UpdatedAt. DailyGoalMinutes of an
	// existing row is kept.
	WriteUserStats(ctx context.Context, stats models.UserStats) error

	// SetDailyGoal updates only the daily goal of the user's stats row
	SetDailyGoal(ctx context.Context, userID int64, minutes int) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
