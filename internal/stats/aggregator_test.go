package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ivyreader/internal/models"
	"ivyreader/internal/storage"
	"ivyreader/internal/storage/stubs"
)

const testUser = int64(42)

var testNow = time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)

// setupAggregator creates an aggregator over a fresh mock store with a fixed clock
func setupAggregator(t *testing.T) (*Aggregator, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	db.SetClock(func() time.Time { return testNow })
	agg := NewAggregator(db, zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithLocation(time.UTC),
	)
	return agg, db
}

func addSession(t *testing.T, db *stubs.MockDB, id string, at time.Time, start, end, minutes int) {
	t.Helper()
	err := db.CreateSession(context.Background(), models.ReadingSession{
		ID:              id,
		UserID:          testUser,
		BookID:          "book-1",
		StartPage:       start,
		EndPage:         end,
		DurationMinutes: minutes,
		CreatedAt:       at,
	})
	require.NoError(t, err)
}

func addBook(t *testing.T, db *stubs.MockDB, id string, status models.BookStatus) {
	t.Helper()
	err := db.CreateBook(context.Background(), models.Book{
		ID:         id,
		UserID:     testUser,
		Title:      id,
		Status:     status,
		TotalPages: 100,
	})
	require.NoError(t, err)
}

func TestRecompute_TodayAndYesterday(t *testing.T) {
	agg, db := setupAggregator(t)
	ctx := context.Background()

	addSession(t, db, "s1", testNow.Add(-time.Hour), 10, 25, 12)
	addSession(t, db, "s2", testNow.AddDate(0, 0, -1), 0, 10, 20)

	result, err := agg.Recompute(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, 32, result.TotalMinutesRead)
	assert.Equal(t, 25, result.TotalPagesRead)
	assert.Equal(t, 2, result.CurrentStreak)
	require.NotNil(t, result.LastReadDate)
	assert.True(t, result.LastReadDate.Equal(testNow.Add(-time.Hour)))
}

func TestRecompute_OnlyOldSessionGivesZeroStreak(t *testing.T) {
	agg, db := setupAggregator(t)

	addSession(t, db, "s1", testNow.AddDate(0, 0, -3), 40, 58, 30)

	result, err := agg.Recompute(context.Background(), testUser)
	require.NoError(t, err)

	assert.Equal(t, 0, result.CurrentStreak)
	assert.Equal(t, 30, result.TotalMinutesRead)
	assert.Equal(t, 18, result.TotalPagesRead)
}

func TestRecompute_BooksWithoutSessions(t *testing.T) {
	agg, db := setupAggregator(t)

	addBook(t, db, "done", models.StatusCompleted)
	addBook(t, db, "later", models.StatusQueue)

	result, err := agg.Recompute(context.Background(), testUser)
	require.NoError(t, err)

	assert.Equal(t, 1, result.BooksCompleted)
	assert.Equal(t, 0, result.CurrentStreak)
	assert.Equal(t, 0, result.TotalPagesRead)
	assert.Nil(t, result.LastReadDate)
}

func TestRecompute_TwoSessionsSameDay(t *testing.T) {
	agg, db := setupAggregator(t)

	addSession(t, db, "s1", testNow.Add(-3*time.Hour), 0, 5, 15)
	addSession(t, db, "s2", testNow.Add(-time.Hour), 5, 12, 10)

	result, err := agg.Recompute(context.Background(), testUser)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CurrentStreak)
	assert.Equal(t, 25, result.TotalMinutesRead)
	assert.Equal(t, 12, result.TotalPagesRead)
}

func TestRecompute_EmptyState(t *testing.T) {
	agg, _ := setupAggregator(t)

	result, err := agg.Recompute(context.Background(), testUser)
	require.NoError(t, err)

	assert.Equal(t, testUser, result.UserID)
	assert.Zero(t, result.TotalMinutesRead)
	assert.Zero(t, result.TotalPagesRead)
	assert.Zero(t, result.BooksCompleted)
	assert.Zero(t, result.CurrentStreak)
	assert.Nil(t, result.LastReadDate)
	assert.Equal(t, models.DefaultDailyGoalMinutes, result.DailyGoalMinutes)
}

func TestRecompute_Idempotent(t *testing.T) {
	agg, db := setupAggregator(t)
	ctx := context.Background()

	addBook(t, db, "done", models.StatusCompleted)
	addSession(t, db, "s1", testNow, 0, 30, 25)
	addSession(t, db, "s2", testNow.AddDate(0, 0, -1), 30, 44, 18)

	first, err := agg.Recompute(ctx, testUser)
	require.NoError(t, err)
	second, err := agg.Recompute(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, db.StatsWrites())
}

func TestRecompute_CompletedCountIgnoresOtherStatuses(t *testing.T) {
	agg, db := setupAggregator(t)

	addBook(t, db, "a", models.StatusCompleted)
	addBook(t, db, "b", models.StatusCompleted)
	addBook(t, db, "c", models.StatusReading)
	addBook(t, db, "d", models.StatusQueue)
	addBook(t, db, "e", models.StatusReading)

	result, err := agg.Recompute(context.Background(), testUser)
	require.NoError(t, err)

	assert.Equal(t, 2, result.BooksCompleted)
}

func TestRecompute_PreservesDailyGoal(t *testing.T) {
	agg, db := setupAggregator(t)
	ctx := context.Background()

	require.NoError(t, db.SetDailyGoal(ctx, testUser, 45))
	addSession(t, db, "s1", testNow, 0, 10, 10)

	result, err := agg.Recompute(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, 45, result.DailyGoalMinutes)
	assert.Equal(t, 10, result.TotalMinutesRead)
}

func TestRecompute_OverwritesStaleStats(t *testing.T) {
	agg, db := setupAggregator(t)
	ctx := context.Background()

	require.NoError(t, db.WriteUserStats(ctx, models.UserStats{
		UserID:           testUser,
		CurrentStreak:    9,
		TotalPagesRead:   900,
		TotalMinutesRead: 900,
		BooksCompleted:   9,
	}))

	result, err := agg.Recompute(ctx, testUser)
	require.NoError(t, err)

	assert.Zero(t, result.CurrentStreak)
	assert.Zero(t, result.TotalPagesRead)
	assert.Zero(t, result.TotalMinutesRead)
	assert.Zero(t, result.BooksCompleted)
}

func TestRecompute_StorageUnavailable(t *testing.T) {
	agg, db := setupAggregator(t)
	addSession(t, db, "s1", testNow, 0, 10, 10)
	db.SetUnavailable(true)

	result, err := agg.Recompute(context.Background(), testUser)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	assert.Zero(t, db.StatsWrites())
}

// failingStore fails only on the configured step
type failingStore struct {
	*stubs.MockDB
	failWrite bool
	failRead  bool
}

func (f *failingStore) WriteUserStats(ctx context.Context, s models.UserStats) error {
	if f.failWrite {
		return errors.New("connection reset")
	}
	return f.MockDB.WriteUserStats(ctx, s)
}

func (f *failingStore) ReadUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	if f.failRead {
		return nil, errors.New("connection reset")
	}
	return f.MockDB.ReadUserStats(ctx, userID)
}

func TestRecompute_WriteAndReadFailures(t *testing.T) {
	for _, tc := range []struct {
		name  string
		store *failingStore
	}{
		{name: "write fails", store: &failingStore{MockDB: stubs.NewMockDB(), failWrite: true}},
		{name: "re-read fails", store: &failingStore{MockDB: stubs.NewMockDB(), failRead: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			agg := NewAggregator(tc.store, zap.NewNop(), WithClock(func() time.Time { return testNow }))

			result, err := agg.Recompute(context.Background(), testUser)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrStorageUnavailable)
		})
	}
}

func TestCompute_ClampsNegativePageDelta(t *testing.T) {
	sessions := []models.ReadingSession{
		{StartPage: 50, EndPage: 40, DurationMinutes: 5, CreatedAt: testNow},
		{StartPage: 40, EndPage: 60, DurationMinutes: 5, CreatedAt: testNow},
	}

	result := Compute(testUser, sessions, nil, testNow)

	assert.Equal(t, 20, result.TotalPagesRead)
	assert.Equal(t, 10, result.TotalMinutesRead)
}

func TestCompute_LastReadDateIgnoresOrder(t *testing.T) {
	newest := testNow.Add(-10 * time.Minute)
	sessions := []models.ReadingSession{
		{CreatedAt: testNow.AddDate(0, 0, -2), DurationMinutes: 1},
		{CreatedAt: newest, DurationMinutes: 1},
		{CreatedAt: testNow.AddDate(0, 0, -1), DurationMinutes: 1},
	}

	result := Compute(testUser, sessions, nil, testNow)

	require.NotNil(t, result.LastReadDate)
	assert.True(t, result.LastReadDate.Equal(newest))
}
