// Package stats computes a reader's aggregate statistics (totals, completed
// books and the daily reading streak) from the raw session and book history
// and caches them in the stats row.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ivyreader/internal/models"
)

// ErrStorageUnavailable wraps every collaborator failure during a recompute.
// Callers must not treat a failed recompute as zero stats.
var ErrStorageUnavailable = errors.New("stats storage unavailable")

// Store is the subset of storage the aggregator reads from and writes to
type Store interface {
	ListSessionsForUser(ctx context.Context, userID int64) ([]models.ReadingSession, error)
	ListBooksForUser(ctx context.Context, userID int64) ([]models.Book, error)
	WriteUserStats(ctx context.Context, stats models.UserStats) error
	ReadUserStats(ctx context.Context, userID int64) (*models.UserStats, error)
}

// Aggregator recomputes and persists UserStats
type Aggregator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock sets the clock used to determine "today"
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithLocation sets the location whose calendar days bound the streak
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// NewAggregator creates a new Aggregator
func NewAggregator(store Store, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  store,
		logger: logger,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Now returns the aggregator's current time in its configured location
func (a *Aggregator) Now() time.Time {
	return a.now().In(a.loc)
}

// Compute derives the aggregate fields from a full session and book history.
// Sessions may come in any order.
func Compute(userID int64, sessions []models.ReadingSession, books []models.Book, now time.Time) models.UserStats {
	result := models.UserStats{UserID: userID}

	var last *time.Time
	for _, s := range sessions {
		result.TotalMinutesRead += s.DurationMinutes
		result.TotalPagesRead += s.PagesRead()

		if last == nil || s.CreatedAt.After(*last) {
			created := s.CreatedAt
			last = &created
		}
	}
	result.LastReadDate = last

	for _, b := range books {
		if b.Status == models.StatusCompleted {
			result.BooksCompleted++
		}
	}

	result.CurrentStreak = CurrentStreak(sessions, now)
	return result
}

// Recompute rebuilds the user's stats from scratch, overwrites the stats row
// and returns the row as stored
func (a *Aggregator) Recompute(ctx context.Context, userID int64) (*models.UserStats, error) {
	sessions, err := a.store.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing sessions for user %d: %w", ErrStorageUnavailable, userID, err)
	}

	books, err := a.store.ListBooksForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing books for user %d: %w", ErrStorageUnavailable, userID, err)
	}

	computed := Compute(userID, sessions, books, a.Now())

	if err := a.store.WriteUserStats(ctx, computed); err != nil {
		return nil, fmt.Errorf("%w: writing stats for user %d: %w", ErrStorageUnavailable, userID, err)
	}

	stored, err := a.store.ReadUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading stats for user %d: %w", ErrStorageUnavailable, userID, err)
	}

	a.logger.Debug("Recomputed reading stats",
		zap.Int64("user_id", userID),
		zap.Int("sessions", len(sessions)),
		zap.Int("books", len(books)),
		zap.Int("current_streak", stored.CurrentStreak),
		zap.Int("total_pages", stored.TotalPagesRead),
		zap.Int("total_minutes", stored.TotalMinutesRead),
	)

	return stored, nil
}
