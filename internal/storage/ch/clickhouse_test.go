package ch

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clickhouseTC "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"ivyreader/internal/models"
	"ivyreader/internal/storage"
	"ivyreader/migrations"
)

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// runMigrations applies the Up sections of the embedded goose migrations
func runMigrations(ctx context.Context, db *ClickHouseDB) error {
	// Drop existing tables
	_ = db.conn.Exec(ctx, "DROP TABLE IF EXISTS user_goals")
	_ = db.conn.Exec(ctx, "DROP TABLE IF EXISTS user_stats")
	_ = db.conn.Exec(ctx, "DROP TABLE IF EXISTS reading_sessions")
	_ = db.conn.Exec(ctx, "DROP TABLE IF EXISTS books")

	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		up := string(content)
		if i := strings.Index(up, "-- +goose Down"); i >= 0 {
			up = up[:i]
		}
		up = strings.ReplaceAll(up, "-- +goose Up", "")
		for _, stmt := range strings.Split(up, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if err := db.conn.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// setupTestDB creates a test ClickHouse instance using testcontainers
func setupTestDB(t *testing.T) (*ClickHouseDB, func()) {
	ctx := context.Background()

	// Start ClickHouse container
	clickhouseContainer, err := clickhouseTC.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouseTC.WithUsername("default"),
		clickhouseTC.WithPassword(""),
		clickhouseTC.WithDatabase("default"),
	)
	require.NoError(t, err, "Failed to start ClickHouse container")

	// Get connection details
	host, err := clickhouseContainer.Host(ctx)
	require.NoError(t, err)

	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	// Create database connection
	db, err := NewClickHouseDB(host, port.Int(), "default", "default", "", false)
	require.NoError(t, err, "Failed to connect to ClickHouse")
	db.SetClock(func() time.Time { return fixedNow })

	// Run migrations manually (goose doesn't work well with ClickHouse)
	err = runMigrations(ctx, db)
	require.NoError(t, err, "Failed to run migrations")

	// Cleanup function
	cleanup := func() {
		db.Close()
		clickhouseContainer.Terminate(ctx)
	}

	return db, cleanup
}

func testBook(id, title string, status models.BookStatus) models.Book {
	return models.Book{
		ID:         id,
		UserID:     1,
		Title:      title,
		Author:     "Someone",
		Status:     status,
		TotalPages: 250,
		CreatedAt:  fixedNow,
		UpdatedAt:  fixedNow,
	}
}

// TestClickHouseDB_Books tests book creation, listing and versioned updates
func TestClickHouseDB_Books(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// Initially should be empty
	books, err := db.ListBooksForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, books)

	require.NoError(t, db.CreateBook(ctx, testBook("b3", "Book C", models.StatusQueue)))
	require.NoError(t, db.CreateBook(ctx, testBook("b1", "Book A", models.StatusReading)))
	require.NoError(t, db.CreateBook(ctx, testBook("b2", "Book B", models.StatusQueue)))

	// Should return books sorted by title
	books, err = db.ListBooksForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "Book A", books[0].Title)
	assert.Equal(t, "Book B", books[1].Title)
	assert.Equal(t, "Book C", books[2].Title)
	assert.Equal(t, 250, books[0].TotalPages)

	// Update writes a newer version that replaces the old one
	updated := books[0]
	updated.Status = models.StatusCompleted
	updated.CurrentPage = 250
	updated.UpdatedAt = fixedNow.Add(time.Minute)
	require.NoError(t, db.UpdateBook(ctx, updated))

	book, err := db.GetBook(ctx, 1, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, book.Status)
	assert.Equal(t, 250, book.CurrentPage)

	books, err = db.ListBooksForUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, books, 3)

	// Other users don't see the book
	_, err = db.GetBook(ctx, 2, "b1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestClickHouseDB_Sessions tests session creation and ordering
func TestClickHouseDB_Sessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, db.CreateBook(ctx, testBook("b1", "Book A", models.StatusReading)))

	for i, offset := range []time.Duration{-48 * time.Hour, 0, -time.Hour} {
		err := db.CreateSession(ctx, models.ReadingSession{
			ID:              string(rune('a' + i)),
			UserID:          1,
			BookID:          "b1",
			StartPage:       i * 10,
			EndPage:         i*10 + 10,
			DurationMinutes: 15,
			CreatedAt:       fixedNow.Add(offset),
		})
		require.NoError(t, err)
	}

	sessions, err := db.ListSessionsForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "b", sessions[0].ID)
	assert.Equal(t, "c", sessions[1].ID)
	assert.Equal(t, "a", sessions[2].ID)
	assert.Equal(t, 10, sessions[1].EndPage-sessions[1].StartPage)
	assert.True(t, sessions[0].CreatedAt.Equal(fixedNow))

	last, err := db.GetLastSessions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "b", last[0].ID)
}

// TestClickHouseDB_DeleteBook tests the cascading delete
func TestClickHouseDB_DeleteBook(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, db.CreateBook(ctx, testBook("b1", "Book A", models.StatusReading)))
	require.NoError(t, db.CreateSession(ctx, models.ReadingSession{
		ID: "s1", UserID: 1, BookID: "b1", EndPage: 5, DurationMinutes: 5, CreatedAt: fixedNow,
	}))

	require.NoError(t, db.DeleteBook(ctx, 1, "b1"))

	books, err := db.ListBooksForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, books)

	sessions, err := db.ListSessionsForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

// TestClickHouseDB_UserStats tests lazy creation, overwrite and goal preservation
func TestClickHouseDB_UserStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	stats, err := db.ReadUserStats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.UserID)
	assert.Equal(t, models.DefaultDailyGoalMinutes, stats.DailyGoalMinutes)
	assert.Nil(t, stats.LastReadDate)

	require.NoError(t, db.SetDailyGoal(ctx, 5, 30))

	lastRead := fixedNow.Add(-time.Hour)
	require.NoError(t, db.WriteUserStats(ctx, models.UserStats{
		UserID:           5,
		CurrentStreak:    4,
		TotalPagesRead:   210,
		TotalMinutesRead: 180,
		BooksCompleted:   2,
		LastReadDate:     &lastRead,
	}))

	stats, err = db.ReadUserStats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.CurrentStreak)
	assert.Equal(t, 210, stats.TotalPagesRead)
	assert.Equal(t, 180, stats.TotalMinutesRead)
	assert.Equal(t, 2, stats.BooksCompleted)
	assert.Equal(t, 30, stats.DailyGoalMinutes)
	require.NotNil(t, stats.LastReadDate)
	assert.True(t, stats.LastReadDate.Equal(lastRead))

	// A later write replaces every aggregate field
	require.NoError(t, db.WriteUserStats(ctx, models.UserStats{UserID: 5}))
	stats, err = db.ReadUserStats(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, stats.CurrentStreak)
	assert.Zero(t, stats.TotalPagesRead)
	assert.Nil(t, stats.LastReadDate)
	assert.Equal(t, 30, stats.DailyGoalMinutes)
}

func TestClickHouseDB_GoalSurvivesStaleStatsWrite(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	stale, err := db.ReadUserStats(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultDailyGoalMinutes, stale.DailyGoalMinutes)

	require.NoError(t, db.SetDailyGoal(ctx, 9, 45))

	// A recompute that read the row before the goal changed writes its copy last
	row := *stale
	row.TotalPagesRead = 80
	row.UpdatedAt = fixedNow.Add(time.Minute)
	require.NoError(t, db.insertUserStats(ctx, row, "stale write"))

	stats, err := db.ReadUserStats(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 80, stats.TotalPagesRead)
	assert.Equal(t, 45, stats.DailyGoalMinutes)

	require.NoError(t, db.SetDailyGoal(ctx, 9, 15))
	stats, err = db.ReadUserStats(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 15, stats.DailyGoalMinutes)
}
