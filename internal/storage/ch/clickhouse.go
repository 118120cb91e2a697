package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"ivyreader/internal/models"
	"ivyreader/internal/storage"
)

// ClickHouseDB implements storage.Storage on ClickHouse.
//
// books, user_stats and user_goals are ReplacingMergeTree tables versioned by updated_at:
// an update is a new row and reads use FINAL, so the newest write wins.
type ClickHouseDB struct {
	conn clickhouse.Conn
	now  func() time.Time
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w: %w", storage.ErrUnavailable, err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w: %w", storage.ErrUnavailable, err)
	}

	return &ClickHouseDB{conn: conn, now: time.Now}, nil
}

// SetClock replaces the clock used for updated_at versions
func (db *ClickHouseDB) SetClock(now func() time.Time) {
	db.now = now
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// Tables are managed via migrations (see migrations/ directory)
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
}

// CreateBook inserts a new book
func (db *ClickHouseDB) CreateBook(ctx context.Context, book models.Book) error {
	return db.insertBook(ctx, book, "failed to create book")
}

func (db *ClickHouseDB) insertBook(ctx context.Context, book models.Book, op string) error {
	err := db.conn.Exec(ctx, `INSERT INTO books
		(id, user_id, title, author, status, total_pages, current_page, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.UserID, book.Title, book.Author, string(book.Status),
		int64(book.TotalPages), int64(book.CurrentPage), book.CreatedAt, book.UpdatedAt)
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// GetBook returns a single book owned by the user
func (db *ClickHouseDB) GetBook(ctx context.Context, userID int64, bookID string) (*models.Book, error) {
	books, err := db.queryBooks(ctx, `SELECT id, user_id, title, author, status, total_pages, current_page, created_at, updated_at
		FROM books FINAL WHERE user_id = ? AND id = ?`, userID, bookID)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
	}
	return &books[0], nil
}

// ListBooksForUser returns the user's books ordered by title
func (db *ClickHouseDB) ListBooksForUser(ctx context.Context, userID int64) ([]models.Book, error) {
	return db.queryBooks(ctx, `SELECT id, user_id, title, author, status, total_pages, current_page, created_at, updated_at
		FROM books FINAL WHERE user_id = ? ORDER BY title, id`, userID)
}

func (db *ClickHouseDB) queryBooks(ctx context.Context, query string, args ...interface{}) ([]models.Book, error) {
	rows, err := db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("failed to list books", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		var book models.Book
		var status string
		var totalPages, currentPage int64
		if err := rows.Scan(&book.ID, &book.UserID, &book.Title, &book.Author, &status,
			&totalPages, &currentPage, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		book.Status = models.BookStatus(status)
		book.TotalPages = int(totalPages)
		book.CurrentPage = int(currentPage)
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("failed to iterate books", err)
	}
	return books, nil
}

// UpdateBook writes a new version of an existing book
func (db *ClickHouseDB) UpdateBook(ctx context.Context, book models.Book) error {
	if _, err := db.GetBook(ctx, book.UserID, book.ID); err != nil {
		return err
	}
	if book.UpdatedAt.IsZero() {
		book.UpdatedAt = db.now()
	}
	return db.insertBook(ctx, book, "failed to update book")
}

// DeleteBook removes the book and all of its sessions
func (db *ClickHouseDB) DeleteBook(ctx context.Context, userID int64, bookID string) error {
	if _, err := db.GetBook(ctx, userID, bookID); err != nil {
		return err
	}

	if err := db.conn.Exec(ctx, `DELETE FROM reading_sessions WHERE user_id = ? AND book_id = ?`, userID, bookID); err != nil {
		return unavailable("failed to delete sessions", err)
	}
	if err := db.conn.Exec(ctx, `DELETE FROM books WHERE user_id = ? AND id = ?`, userID, bookID); err != nil {
		return unavailable("failed to delete book", err)
	}
	return nil
}

// CreateSession inserts a reading session
func (db *ClickHouseDB) CreateSession(ctx context.Context, session models.ReadingSession) error {
	err := db.conn.Exec(ctx, `INSERT INTO reading_sessions
		(id, user_id, book_id, start_page, end_page, duration_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.BookID, int64(session.StartPage), int64(session.EndPage),
		int64(session.DurationMinutes), session.CreatedAt)
	if err != nil {
		return unavailable("failed to create session", err)
	}
	return nil
}

// ListSessionsForUser returns every session of the user, most recent first
func (db *ClickHouseDB) ListSessionsForUser(ctx context.Context, userID int64) ([]models.ReadingSession, error) {
	return db.querySessions(ctx, `SELECT id, user_id, book_id, start_page, end_page, duration_minutes, created_at
		FROM reading_sessions WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
}

// GetLastSessions returns the last N sessions of the user
func (db *ClickHouseDB) GetLastSessions(ctx context.Context, userID int64, limit int) ([]models.ReadingSession, error) {
	return db.querySessions(ctx, `SELECT id, user_id, book_id, start_page, end_page, duration_minutes, created_at
		FROM reading_sessions WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
}

func (db *ClickHouseDB) querySessions(ctx context.Context, query string, args ...interface{}) ([]models.ReadingSession, error) {
	rows, err := db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("failed to list sessions", err)
	}
	defer rows.Close()

	var sessions []models.ReadingSession
	for rows.Next() {
		var session models.ReadingSession
		var startPage, endPage, minutes int64
		if err := rows.Scan(&session.ID, &session.UserID, &session.BookID,
			&startPage, &endPage, &minutes, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session.StartPage = int(startPage)
		session.EndPage = int(endPage)
		session.DurationMinutes = int(minutes)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("failed to iterate sessions", err)
	}
	return sessions, nil
}

// findUserStats returns the current stats row or nil when none exists
func (db *ClickHouseDB) findUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	rows, err := db.conn.Query(ctx, `SELECT user_id, current_streak, total_pages_read, total_minutes_read,
		books_completed, last_read_date, daily_goal_minutes, updated_at
		FROM user_stats FINAL WHERE user_id = ?`, userID)
	if err != nil {
		return nil, unavailable("failed to read stats", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, unavailable("failed to read stats", err)
		}
		return nil, nil
	}

	var stats models.UserStats
	var streak, pages, minutes, completed, goal int64
	var lastRead *time.Time
	if err := rows.Scan(&stats.UserID, &streak, &pages, &minutes, &completed,
		&lastRead, &goal, &stats.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan stats: %w", err)
	}
	stats.CurrentStreak = int(streak)
	stats.TotalPagesRead = int(pages)
	stats.TotalMinutesRead = int(minutes)
	stats.BooksCompleted = int(completed)
	stats.DailyGoalMinutes = int(goal)
	stats.LastReadDate = lastRead

	userGoal, err := db.findDailyGoal(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userGoal != nil {
		stats.DailyGoalMinutes = userGoal.minutes
	}
	return &stats, nil
}

type dailyGoal struct {
	minutes   int
	updatedAt time.Time
}

// findDailyGoal returns the user's goal from user_goals or nil when it was never set
func (db *ClickHouseDB) findDailyGoal(ctx context.Context, userID int64) (*dailyGoal, error) {
	rows, err := db.conn.Query(ctx, `SELECT daily_goal_minutes, updated_at
		FROM user_goals FINAL WHERE user_id = ?`, userID)
	if err != nil {
		return nil, unavailable("failed to read daily goal", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, unavailable("failed to read daily goal", err)
		}
		return nil, nil
	}

	var minutes int64
	var goal dailyGoal
	if err := rows.Scan(&minutes, &goal.updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan daily goal: %w", err)
	}
	goal.minutes = int(minutes)
	return &goal, nil
}

func (db *ClickHouseDB) insertUserStats(ctx context.Context, stats models.UserStats, op string) error {
	var lastRead interface{}
	if stats.LastReadDate != nil {
		lastRead = *stats.LastReadDate
	}
	err := db.conn.Exec(ctx, `INSERT INTO user_stats
		(user_id, current_streak, total_pages_read, total_minutes_read, books_completed,
		 last_read_date, daily_goal_minutes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stats.UserID, int64(stats.CurrentStreak), int64(stats.TotalPagesRead), int64(stats.TotalMinutesRead),
		int64(stats.BooksCompleted), lastRead, int64(stats.DailyGoalMinutes), stats.UpdatedAt)
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// ReadUserStats returns the stats row, inserting a default row on first access
func (db *ClickHouseDB) ReadUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	stats, err := db.findUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stats != nil {
		return stats, nil
	}

	defaults := models.DefaultUserStats(userID, db.now())
	if err := db.insertUserStats(ctx, defaults, "failed to create default stats"); err != nil {
		return nil, err
	}

	userGoal, err := db.findDailyGoal(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userGoal != nil {
		defaults.DailyGoalMinutes = userGoal.minutes
	}
	return &defaults, nil
}

// WriteUserStats writes a new version of the stats row with the aggregate
// fields replaced. The goal column only serves as a fallback, user_goals
// holds the goal itself.
func (db *ClickHouseDB) WriteUserStats(ctx context.Context, stats models.UserStats) error {
	current, err := db.findUserStats(ctx, stats.UserID)
	if err != nil {
		return err
	}

	row := stats
	row.DailyGoalMinutes = models.DefaultDailyGoalMinutes
	var last time.Time
	if current != nil {
		row.DailyGoalMinutes = current.DailyGoalMinutes
		last = current.UpdatedAt
	}
	row.UpdatedAt = db.nextVersion(last)
	return db.insertUserStats(ctx, row, "failed to write stats")
}

// SetDailyGoal writes a new version of the user's goal. Stats writes never
// touch user_goals, so a concurrent recompute cannot revert the goal.
func (db *ClickHouseDB) SetDailyGoal(ctx context.Context, userID int64, minutes int) error {
	current, err := db.findDailyGoal(ctx, userID)
	if err != nil {
		return err
	}

	var last time.Time
	if current != nil {
		last = current.updatedAt
	}
	err = db.conn.Exec(ctx, `INSERT INTO user_goals (user_id, daily_goal_minutes, updated_at) VALUES (?, ?, ?)`,
		userID, int64(minutes), db.nextVersion(last))
	if err != nil {
		return unavailable("failed to set daily goal", err)
	}
	return nil
}

// nextVersion returns a version stamp strictly newer than last
func (db *ClickHouseDB) nextVersion(last time.Time) time.Time {
	now := db.now().UTC().Truncate(time.Millisecond)
	if !now.After(last) {
		return last.Add(time.Millisecond)
	}
	return now
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
