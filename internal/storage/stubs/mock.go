package stubs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ivyreader/internal/models"
	"ivyreader/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
// and for running the bot without a database
type MockDB struct {
	mu       sync.RWMutex
	books    map[string]models.Book
	sessions []models.ReadingSession
	stats    map[int64]models.UserStats
	now      func() time.Time

	// failing makes every call return an error wrapping storage.ErrUnavailable
	failing bool
	// statsWrites counts WriteUserStats calls
	statsWrites int
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		books:    make(map[string]models.Book),
		sessions: make([]models.ReadingSession, 0),
		stats:    make(map[int64]models.UserStats),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for UpdatedAt stamps
func (m *MockDB) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetUnavailable toggles simulated storage outage
func (m *MockDB) SetUnavailable(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// StatsWrites returns how many times WriteUserStats succeeded
func (m *MockDB) StatsWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsWrites
}

func (m *MockDB) unavailable(op string) error {
	if m.failing {
		return fmt.Errorf("mock %s: %w", op, storage.ErrUnavailable)
	}
	return nil
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unavailable("initialize")
}

// CreateBook stores a new book
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("create book"); err != nil {
		return err
	}

	if _, exists := m.books[book.ID]; exists {
		return fmt.Errorf("book %s already exists", book.ID)
	}
	m.books[book.ID] = book
	return nil
}

// GetBook returns a single book owned by the user
func (m *MockDB) GetBook(ctx context.Context, userID int64, bookID string) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.unavailable("get book"); err != nil {
		return nil, err
	}

	book, ok := m.books[bookID]
	if !ok || book.UserID != userID {
		return nil, fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
	}
	return &book, nil
}

// ListBooksForUser returns the user's books sorted by title
func (m *MockDB) ListBooksForUser(ctx context.Context, userID int64) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.unavailable("list books"); err != nil {
		return nil, err
	}

	var books []models.Book
	for _, book := range m.books {
		if book.UserID == userID {
			books = append(books, book)
		}
	}

	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})

	return books, nil
}

// UpdateBook replaces a stored book
func (m *MockDB) UpdateBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("update book"); err != nil {
		return err
	}

	existing, ok := m.books[book.ID]
	if !ok || existing.UserID != book.UserID {
		return fmt.Errorf("book %s: %w", book.ID, storage.ErrNotFound)
	}
	m.books[book.ID] = book
	return nil
}

// DeleteBook removes a book and its sessions
func (m *MockDB) DeleteBook(ctx context.Context, userID int64, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("delete book"); err != nil {
		return err
	}

	book, ok := m.books[bookID]
	if !ok || book.UserID != userID {
		return fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
	}
	delete(m.books, bookID)

	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if s.BookID != bookID {
			kept = append(kept, s)
		}
	}
	m.sessions = kept
	return nil
}

// CreateSession appends a reading session
func (m *MockDB) CreateSession(ctx context.Context, session models.ReadingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("create session"); err != nil {
		return err
	}

	m.sessions = append(m.sessions, session)
	return nil
}

// ListSessionsForUser returns all of the user's sessions, most recent first
func (m *MockDB) ListSessionsForUser(ctx context.Context, userID int64) ([]models.ReadingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.unavailable("list sessions"); err != nil {
		return nil, err
	}

	var sessions []models.ReadingSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			sessions = append(sessions, s)
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	return sessions, nil
}

// GetLastSessions returns the last N sessions of the user
func (m *MockDB) GetLastSessions(ctx context.Context, userID int64, limit int) ([]models.ReadingSession, error) {
	sessions, err := m.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if limit > len(sessions) {
		limit = len(sessions)
	}

	return sessions[:limit], nil
}

// ReadUserStats returns the stats row, creating a default one on first access
func (m *MockDB) ReadUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("read stats"); err != nil {
		return nil, err
	}

	stats, ok := m.stats[userID]
	if !ok {
		stats = models.DefaultUserStats(userID, m.now())
		m.stats[userID] = stats
	}
	return copyStats(stats), nil
}

// WriteUserStats overwrites the aggregate fields of the stats row
func (m *MockDB) WriteUserStats(ctx context.Context, stats models.UserStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("write stats"); err != nil {
		return err
	}

	row, ok := m.stats[stats.UserID]
	if !ok {
		row = models.DefaultUserStats(stats.UserID, m.now())
	}
	row.CurrentStreak = stats.CurrentStreak
	row.TotalPagesRead = stats.TotalPagesRead
	row.TotalMinutesRead = stats.TotalMinutesRead
	row.BooksCompleted = stats.BooksCompleted
	row.LastReadDate = nil
	if stats.LastReadDate != nil {
		last := *stats.LastReadDate
		row.LastReadDate = &last
	}
	row.UpdatedAt = m.now()

	m.stats[stats.UserID] = row
	m.statsWrites++
	return nil
}

// SetDailyGoal updates the daily goal of the stats row
func (m *MockDB) SetDailyGoal(ctx context.Context, userID int64, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailable("set daily goal"); err != nil {
		return err
	}

	row, ok := m.stats[userID]
	if !ok {
		row = models.DefaultUserStats(userID, m.now())
	}
	row.DailyGoalMinutes = minutes
	row.UpdatedAt = m.now()
	m.stats[userID] = row
	return nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

func copyStats(s models.UserStats) *models.UserStats {
	out := s
	if s.LastReadDate != nil {
		last := *s.LastReadDate
		out.LastReadDate = &last
	}
	return &out
}
