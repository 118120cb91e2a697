package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ivyreader/internal/models"
	"ivyreader/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort lexicographically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id           TEXT PRIMARY KEY,
		user_id      INTEGER NOT NULL,
		title        TEXT NOT NULL,
		author       TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL CHECK (status IN ('reading', 'queue', 'completed')),
		total_pages  INTEGER NOT NULL DEFAULT 0,
		current_page INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_books_user ON books (user_id, title)`,
	`CREATE TABLE IF NOT EXISTS reading_sessions (
		id               TEXT PRIMARY KEY,
		user_id          INTEGER NOT NULL,
		book_id          TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		start_page       INTEGER NOT NULL,
		end_page         INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		created_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON reading_sessions (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS user_stats (
		user_id            INTEGER PRIMARY KEY,
		current_streak     INTEGER NOT NULL DEFAULT 0,
		total_pages_read   INTEGER NOT NULL DEFAULT 0,
		total_minutes_read INTEGER NOT NULL DEFAULT 0,
		books_completed    INTEGER NOT NULL DEFAULT 0,
		last_read_date     TEXT,
		daily_goal_minutes INTEGER NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
}

// SQLiteDB implements storage.Storage on an embedded SQLite database
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteDB opens (creating if needed) a SQLite database at path.
// ":memory:" opens a private in-memory database.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: would see its own empty database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w: %w", storage.ErrUnavailable, err)
	}

	return &SQLiteDB{db: db, now: time.Now}, nil
}

// SetClock replaces the clock used for created_at/updated_at stamps
func (s *SQLiteDB) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteDB) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// unavailable marks a driver error as a storage outage
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
}

// Initialize creates the schema
func (s *SQLiteDB) Initialize(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// CreateBook inserts a new book
func (s *SQLiteDB) CreateBook(ctx context.Context, book models.Book) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO books
		(id, user_id, title, author, status, total_pages, current_page, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.UserID, book.Title, book.Author, string(book.Status),
		book.TotalPages, book.CurrentPage,
		book.CreatedAt.UTC().Format(timeLayout), book.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return unavailable("failed to create book", err)
	}
	return nil
}

const bookColumns = `id, user_id, title, author, status, total_pages, current_page, created_at, updated_at`

// GetBook returns a single book owned by the user
func (s *SQLiteDB) GetBook(ctx context.Context, userID int64, bookID string) (*models.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ? AND user_id = ?`, bookID, userID)
	book, err := scanBook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
		}
		return nil, unavailable("failed to get book", err)
	}
	return book, nil
}

// ListBooksForUser returns the user's books ordered by title
func (s *SQLiteDB) ListBooksForUser(ctx context.Context, userID int64) ([]models.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books WHERE user_id = ? ORDER BY title, id`, userID)
	if err != nil {
		return nil, unavailable("failed to list books", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("failed to iterate books", err)
	}
	return books, nil
}

// UpdateBook replaces the mutable fields of a book
func (s *SQLiteDB) UpdateBook(ctx context.Context, book models.Book) error {
	res, err := s.db.ExecContext(ctx, `UPDATE books
		SET title = ?, author = ?, status = ?, total_pages = ?, current_page = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		book.Title, book.Author, string(book.Status), book.TotalPages, book.CurrentPage,
		book.UpdatedAt.UTC().Format(timeLayout), book.ID, book.UserID,
	)
	if err != nil {
		return unavailable("failed to update book", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("book %s: %w", book.ID, storage.ErrNotFound)
	}
	return nil
}

// DeleteBook removes the book and its sessions in one transaction
func (s *SQLiteDB) DeleteBook(ctx context.Context, userID int64, bookID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reading_sessions WHERE book_id = ? AND user_id = ?`, bookID, userID); err != nil {
		return unavailable("failed to delete sessions", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ? AND user_id = ?`, bookID, userID)
	if err != nil {
		return unavailable("failed to delete book", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing transaction", err)
	}
	return nil
}

// CreateSession inserts a reading session
func (s *SQLiteDB) CreateSession(ctx context.Context, session models.ReadingSession) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO reading_sessions
		(id, user_id, book_id, start_page, end_page, duration_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.BookID, session.StartPage, session.EndPage,
		session.DurationMinutes, session.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return unavailable("failed to create session", err)
	}
	return nil
}

// ListSessionsForUser returns every session of the user, most recent first
func (s *SQLiteDB) ListSessionsForUser(ctx context.Context, userID int64) ([]models.ReadingSession, error) {
	return s.querySessions(ctx, `SELECT id, user_id, book_id, start_page, end_page, duration_minutes, created_at
		FROM reading_sessions WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
}

// GetLastSessions returns the user's N most recent sessions
func (s *SQLiteDB) GetLastSessions(ctx context.Context, userID int64, limit int) ([]models.ReadingSession, error) {
	return s.querySessions(ctx, `SELECT id, user_id, book_id, start_page, end_page, duration_minutes, created_at
		FROM reading_sessions WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
}

func (s *SQLiteDB) querySessions(ctx context.Context, query string, args ...interface{}) ([]models.ReadingSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("failed to list sessions", err)
	}
	defer rows.Close()

	var sessions []models.ReadingSession
	for rows.Next() {
		var session models.ReadingSession
		var createdAt string
		if err := rows.Scan(&session.ID, &session.UserID, &session.BookID, &session.StartPage,
			&session.EndPage, &session.DurationMinutes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if session.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("failed to iterate sessions", err)
	}
	return sessions, nil
}

// ReadUserStats returns the stats row, inserting the default row first if needed
func (s *SQLiteDB) ReadUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO user_stats (user_id, daily_goal_minutes, updated_at)
		VALUES (?, ?, ?)`, userID, models.DefaultDailyGoalMinutes, s.stamp())
	if err != nil {
		return nil, unavailable("failed to create default stats", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT user_id, current_streak, total_pages_read, total_minutes_read,
		books_completed, last_read_date, daily_goal_minutes, updated_at
		FROM user_stats WHERE user_id = ?`, userID)

	var stats models.UserStats
	var lastRead sql.NullString
	var updatedAt string
	if err := row.Scan(&stats.UserID, &stats.CurrentStreak, &stats.TotalPagesRead, &stats.TotalMinutesRead,
		&stats.BooksCompleted, &lastRead, &stats.DailyGoalMinutes, &updatedAt); err != nil {
		return nil, unavailable("failed to read stats", err)
	}

	stats.LastReadDate = parseNullableTime(lastRead)
	if stats.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &stats, nil
}

// WriteUserStats overwrites the aggregate fields of the stats row
func (s *SQLiteDB) WriteUserStats(ctx context.Context, stats models.UserStats) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_stats
		(user_id, current_streak, total_pages_read, total_minutes_read, books_completed,
		 last_read_date, daily_goal_minutes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			total_pages_read = excluded.total_pages_read,
			total_minutes_read = excluded.total_minutes_read,
			books_completed = excluded.books_completed,
			last_read_date = excluded.last_read_date,
			updated_at = excluded.updated_at`,
		stats.UserID, stats.CurrentStreak, stats.TotalPagesRead, stats.TotalMinutesRead,
		stats.BooksCompleted, nullableTime(stats.LastReadDate), models.DefaultDailyGoalMinutes, s.stamp(),
	)
	if err != nil {
		return unavailable("failed to write stats", err)
	}
	return nil
}

// SetDailyGoal updates only the daily goal
func (s *SQLiteDB) SetDailyGoal(ctx context.Context, userID int64, minutes int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_stats (user_id, daily_goal_minutes, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			daily_goal_minutes = excluded.daily_goal_minutes,
			updated_at = excluded.updated_at`,
		userID, minutes, s.stamp(),
	)
	if err != nil {
		return unavailable("failed to set daily goal", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(row rowScanner) (*models.Book, error) {
	var book models.Book
	var status, createdAt, updatedAt string
	if err := row.Scan(&book.ID, &book.UserID, &book.Title, &book.Author, &status,
		&book.TotalPages, &book.CurrentPage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	book.Status = models.BookStatus(status)

	var err error
	if book.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if book.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &book, nil
}

// parseNullableTime returns nil for NULL or unparsable values
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullableTime converts a *time.Time to a value suitable for SQLite storage
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
