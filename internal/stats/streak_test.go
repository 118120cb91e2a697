package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ivyreader/internal/models"
)

func sessionsAt(times ...time.Time) []models.ReadingSession {
	sessions := make([]models.ReadingSession, 0, len(times))
	for _, t := range times {
		sessions = append(sessions, models.ReadingSession{CreatedAt: t, DurationMinutes: 10})
	}
	return sessions
}

func TestCurrentStreak(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	today := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		sessions []models.ReadingSession
		expected int
	}{
		{
			name:     "no sessions",
			sessions: nil,
			expected: 0,
		},
		{
			name:     "only today",
			sessions: sessionsAt(now),
			expected: 1,
		},
		{
			name:     "three consecutive days then gap",
			sessions: sessionsAt(now, now.AddDate(0, 0, -1), now.AddDate(0, 0, -2), now.AddDate(0, 0, -4)),
			expected: 3,
		},
		{
			name:     "yesterday only is zero",
			sessions: sessionsAt(now.AddDate(0, 0, -1), now.AddDate(0, 0, -2)),
			expected: 0,
		},
		{
			name:     "first instant of today counts",
			sessions: sessionsAt(today),
			expected: 1,
		},
		{
			name:     "last instant of yesterday is not today",
			sessions: sessionsAt(today.Add(-time.Nanosecond)),
			expected: 0,
		},
		{
			name:     "late evening of today counts",
			sessions: sessionsAt(today.Add(23*time.Hour + 59*time.Minute + 59*time.Second + 999*time.Millisecond)),
			expected: 1,
		},
		{
			name:     "several sessions on one day count once",
			sessions: sessionsAt(now, now.Add(-time.Hour), now.Add(-2*time.Hour), now.AddDate(0, 0, -1)),
			expected: 2,
		},
		{
			name:     "future session does not stand in for today",
			sessions: sessionsAt(now.AddDate(0, 0, 1)),
			expected: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CurrentStreak(tc.sessions, now))
		})
	}
}

func TestCurrentStreak_CappedAtOneYear(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	var times []time.Time
	for i := 0; i < 400; i++ {
		times = append(times, now.AddDate(0, 0, -i))
	}

	assert.Equal(t, 365, CurrentStreak(sessionsAt(times...), now))
}

func TestCurrentStreak_UsesLocationOfNow(t *testing.T) {
	// 23:30 UTC on Oct 17 is already Oct 18 in UTC+2
	plusTwo := time.FixedZone("UTC+2", 2*60*60)
	session := time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC)

	nowUTC := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, CurrentStreak(sessionsAt(session), nowUTC))
	assert.Equal(t, 1, CurrentStreak(sessionsAt(session), nowUTC.In(plusTwo)))
}

func TestCurrentStreak_AcrossDSTChange(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	// Clocks go back on 2026-10-25 in Berlin
	now := time.Date(2026, 10, 26, 10, 0, 0, 0, loc)
	sessions := sessionsAt(
		now,
		time.Date(2026, 10, 25, 0, 30, 0, 0, loc),
		time.Date(2026, 10, 24, 23, 0, 0, 0, loc),
	)

	assert.Equal(t, 3, CurrentStreak(sessions, now))
}

func TestLongestStreak(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 9, d, 20, 0, 0, 0, time.UTC) }

	assert.Equal(t, 0, LongestStreak(nil, time.UTC))
	assert.Equal(t, 1, LongestStreak(sessionsAt(day(3)), time.UTC))
	assert.Equal(t, 4, LongestStreak(sessionsAt(day(1), day(2), day(5), day(6), day(7), day(8), day(10)), time.UTC))
	assert.Equal(t, 2, LongestStreak(sessionsAt(day(2), day(1), day(1)), time.UTC))
}
