package stats

import (
	"time"

	descriptive "github.com/montanaflynn/stats"

	"ivyreader/internal/models"
)

// Insights derives display figures from the session history and the cached
// stats row. Nothing here is persisted.
func Insights(sessions []models.ReadingSession, cached models.UserStats, now time.Time) models.ReadingInsights {
	out := models.ReadingInsights{SessionCount: len(sessions)}
	if len(sessions) == 0 {
		return out
	}

	minutes := make(descriptive.Float64Data, 0, len(sessions))
	totalMinutes, totalPages := 0, 0
	todayStart := startOfDay(now)
	tomorrow := todayStart.AddDate(0, 0, 1)

	for _, s := range sessions {
		minutes = append(minutes, float64(s.DurationMinutes))
		totalMinutes += s.DurationMinutes
		totalPages += s.PagesRead()

		if !s.CreatedAt.Before(todayStart) && s.CreatedAt.Before(tomorrow) {
			out.TodayMinutes += s.DurationMinutes
		}
	}

	if mean, err := descriptive.Mean(minutes); err == nil {
		out.MeanSessionMinutes, _ = descriptive.Round(mean, 1)
	}
	if median, err := descriptive.Median(minutes); err == nil {
		out.MedianSessionMinutes, _ = descriptive.Round(median, 1)
	}
	if totalMinutes > 0 {
		out.PagesPerHour, _ = descriptive.Round(float64(totalPages)*60/float64(totalMinutes), 1)
	}

	out.LongestStreak = LongestStreak(sessions, now.Location())
	out.DailyGoalMet = cached.DailyGoalMinutes > 0 && out.TodayMinutes >= cached.DailyGoalMinutes

	return out
}
