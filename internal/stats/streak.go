package stats

import (
	"sort"
	"time"

	"ivyreader/internal/models"
)

// maxStreakDays bounds the backward day walk
const maxStreakDays = 365

// startOfDay returns midnight of t's calendar day in t's location
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// calendarDay identifies a calendar day independent of location and DST
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// readingDays returns the set of calendar days in loc that hold at least one session
func readingDays(sessions []models.ReadingSession, loc *time.Location) map[time.Time]bool {
	days := make(map[time.Time]bool, len(sessions))
	for _, s := range sessions {
		days[calendarDay(s.CreatedAt.In(loc))] = true
	}
	return days
}

// CurrentStreak counts consecutive calendar days with at least one session,
// walking backward from the day containing now. Day boundaries are taken in
// now's location. The walk starts at today: a day without sessions ends it,
// so no session today means a streak of zero whatever happened before.
func CurrentStreak(sessions []models.ReadingSession, now time.Time) int {
	if len(sessions) == 0 {
		return 0
	}

	days := readingDays(sessions, now.Location())

	streak := 0
	day := startOfDay(now)
	for i := 0; i < maxStreakDays; i++ {
		if !days[calendarDay(day)] {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

// LongestStreak returns the longest run of consecutive reading days in the
// whole history, using loc for day boundaries
func LongestStreak(sessions []models.ReadingSession, loc *time.Location) int {
	if len(sessions) == 0 {
		return 0
	}

	set := readingDays(sessions, loc)
	days := make([]time.Time, 0, len(set))
	for d := range set {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i].Sub(days[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
