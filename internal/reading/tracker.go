// Package reading implements the reader-facing operations shared by the bot
// and the Mini App API: shelving books, logging sessions and serving stats.
package reading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ivyreader/internal/models"
	"ivyreader/internal/stats"
	"ivyreader/internal/storage"
)

var (
	ErrInvalidSession = errors.New("invalid reading session")
	ErrInvalidBook    = errors.New("invalid book")
	ErrBookNotFound   = errors.New("book not found")
	ErrInvalidGoal    = errors.New("daily goal must be between 1 and 1440 minutes")
)

const maxDailyGoalMinutes = 24 * 60

// LogSessionInput is what a reader submits after reading
type LogSessionInput struct {
	UserID          int64  `json:"-"`
	BookID          string `json:"book_id"`
	StartPage       int    `json:"start_page"`
	EndPage         int    `json:"end_page"`
	DurationMinutes int    `json:"duration_minutes"`
}

// StatsReport is the cached stats row together with on-read insights
type StatsReport struct {
	Stats    models.UserStats       `json:"stats"`
	Insights models.ReadingInsights `json:"insights"`
}

// Tracker coordinates storage writes with stats recomputation
type Tracker struct {
	db         storage.Storage
	aggregator *stats.Aggregator
	logger     *zap.Logger
	newID      func() string
}

// NewTracker creates a new Tracker
func NewTracker(db storage.Storage, aggregator *stats.Aggregator, logger *zap.Logger) *Tracker {
	return &Tracker{
		db:         db,
		aggregator: aggregator,
		logger:     logger,
		newID:      func() string { return uuid.NewString() },
	}
}

// AddBook puts a new book in the user's queue
func (t *Tracker) AddBook(ctx context.Context, userID int64, title, author string, totalPages int) (*models.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidBook)
	}
	if totalPages < 0 {
		return nil, fmt.Errorf("%w: total pages must not be negative", ErrInvalidBook)
	}

	now := t.aggregator.Now()
	book := models.Book{
		ID:         t.newID(),
		UserID:     userID,
		Title:      title,
		Author:     strings.TrimSpace(author),
		Status:     models.StatusQueue,
		TotalPages: totalPages,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := t.db.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}

	t.logger.Info("Book added",
		zap.Int64("user_id", userID),
		zap.String("book_id", book.ID),
		zap.String("title", book.Title),
	)
	return &book, nil
}

// ListBooks returns the user's shelf sorted by title
func (t *Tracker) ListBooks(ctx context.Context, userID int64) ([]models.Book, error) {
	return t.db.ListBooksForUser(ctx, userID)
}

func (t *Tracker) getBook(ctx context.Context, userID int64, bookID string) (*models.Book, error) {
	book, err := t.db.GetBook(ctx, userID, bookID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

func validateSession(in LogSessionInput, book *models.Book) error {
	if in.StartPage < 0 || in.EndPage < in.StartPage {
		return fmt.Errorf("%w: page range %d-%d", ErrInvalidSession, in.StartPage, in.EndPage)
	}
	if in.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSession)
	}
	if book.TotalPages > 0 && in.EndPage > book.TotalPages {
		return fmt.Errorf("%w: end page %d is past the last page %d", ErrInvalidSession, in.EndPage, book.TotalPages)
	}
	return nil
}

// LogSession records a session, moves the book forward and recomputes the
// user's stats. If the recompute fails the session stays recorded and is
// returned along with the error.
func (t *Tracker) LogSession(ctx context.Context, in LogSessionInput) (*models.ReadingSession, *models.UserStats, error) {
	if in.BookID == "" {
		return nil, nil, fmt.Errorf("%w: book is required", ErrInvalidSession)
	}

	book, err := t.getBook(ctx, in.UserID, in.BookID)
	if err != nil {
		return nil, nil, err
	}
	if err := validateSession(in, book); err != nil {
		return nil, nil, err
	}

	now := t.aggregator.Now()
	session := models.ReadingSession{
		ID:              t.newID(),
		UserID:          in.UserID,
		BookID:          in.BookID,
		StartPage:       in.StartPage,
		EndPage:         in.EndPage,
		DurationMinutes: in.DurationMinutes,
		CreatedAt:       now,
	}
	if err := t.db.CreateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	if in.EndPage > book.CurrentPage {
		book.CurrentPage = in.EndPage
	}
	book.Status = models.StatusReading
	if book.TotalPages > 0 && in.EndPage >= book.TotalPages {
		book.Status = models.StatusCompleted
	}
	book.UpdatedAt = now
	if err := t.db.UpdateBook(ctx, *book); err != nil {
		t.logger.Error("Failed to advance book after session",
			zap.Error(err),
			zap.Int64("user_id", in.UserID),
			zap.String("book_id", book.ID),
		)
		// The session is stored, so its pages and minutes still count
		if _, recomputeErr := t.aggregator.Recompute(ctx, in.UserID); recomputeErr != nil {
			t.logger.Error("Failed to recompute stats after session",
				zap.Error(recomputeErr),
				zap.Int64("user_id", in.UserID),
				zap.String("session_id", session.ID),
			)
		}
		return &session, nil, fmt.Errorf("failed to update book: %w", err)
	}

	t.logger.Info("Reading session logged",
		zap.Int64("user_id", in.UserID),
		zap.String("book_id", book.ID),
		zap.Int("pages", session.PagesRead()),
		zap.Int("minutes", session.DurationMinutes),
		zap.String("book_status", string(book.Status)),
	)

	updated, err := t.aggregator.Recompute(ctx, in.UserID)
	if err != nil {
		t.logger.Error("Failed to recompute stats after session",
			zap.Error(err),
			zap.Int64("user_id", in.UserID),
			zap.String("session_id", session.ID),
		)
		return &session, nil, err
	}
	return &session, updated, nil
}

// Recalculate rebuilds the user's stats from their full history
func (t *Tracker) Recalculate(ctx context.Context, userID int64) (*models.UserStats, error) {
	updated, err := t.aggregator.Recompute(ctx, userID)
	if err != nil {
		t.logger.Error("Failed to recalculate stats", zap.Error(err), zap.Int64("user_id", userID))
		return nil, err
	}
	return updated, nil
}

// Location returns the location whose calendar days bound the streak
func (t *Tracker) Location() *time.Location {
	return t.aggregator.Now().Location()
}

// Stats returns the cached stats row and insights computed from the history
func (t *Tracker) Stats(ctx context.Context, userID int64) (*StatsReport, error) {
	cached, err := t.db.ReadUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	sessions, err := t.db.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return &StatsReport{
		Stats:    *cached,
		Insights: stats.Insights(sessions, *cached, t.aggregator.Now()),
	}, nil
}

// SetDailyGoal changes the user's daily reading goal
func (t *Tracker) SetDailyGoal(ctx context.Context, userID int64, minutes int) error {
	if minutes <= 0 || minutes > maxDailyGoalMinutes {
		return ErrInvalidGoal
	}
	if err := t.db.SetDailyGoal(ctx, userID, minutes); err != nil {
		return fmt.Errorf("failed to set daily goal: %w", err)
	}
	t.logger.Info("Daily goal updated", zap.Int64("user_id", userID), zap.Int("minutes", minutes))
	return nil
}

// SetBookStatus moves a book to another shelf and refreshes the stats,
// since the completed count may change
func (t *Tracker) SetBookStatus(ctx context.Context, userID int64, bookID string, status models.BookStatus) (*models.Book, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidBook, status)
	}

	book, err := t.getBook(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}

	book.Status = status
	if status == models.StatusCompleted && book.TotalPages > 0 {
		book.CurrentPage = book.TotalPages
	}
	book.UpdatedAt = t.aggregator.Now()
	if err := t.db.UpdateBook(ctx, *book); err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}

	if _, err := t.aggregator.Recompute(ctx, userID); err != nil {
		return book, err
	}
	return book, nil
}

// DeleteBook removes a book with its sessions and refreshes the stats
func (t *Tracker) DeleteBook(ctx context.Context, userID int64, bookID string) error {
	err := t.db.DeleteBook(ctx, userID, bookID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}

	t.logger.Info("Book deleted", zap.Int64("user_id", userID), zap.String("book_id", bookID))

	_, err = t.aggregator.Recompute(ctx, userID)
	return err
}

// LastSessions returns the user's most recent sessions, newest first
func (t *Tracker) LastSessions(ctx context.Context, userID int64, limit int) ([]models.ReadingSession, error) {
	if limit <= 0 {
		limit = 10
	}
	return t.db.GetLastSessions(ctx, userID, limit)
}

// NextBook suggests what the user should pick up next
func (t *Tracker) NextBook(ctx context.Context, userID int64) (*models.Book, error) {
	books, err := t.db.ListBooksForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	last, err := t.db.GetLastSessions(ctx, userID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to get last session: %w", err)
	}

	var lastBookID string
	if len(last) > 0 {
		lastBookID = last[0].BookID
	}
	return SuggestNextBook(books, lastBookID), nil
}
