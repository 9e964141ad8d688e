package intent

import "time"

// TimeRange resolves a time_reference value to the half-open interval
// [from, to) in now's location. Weeks start on Monday.
func TimeRange(ref string, now time.Time) (from, to time.Time, ok bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	switch ref {
	case "today":
		return day, now, true
	case "yesterday":
		return day.AddDate(0, 0, -1), day, true
	case "this week":
		return weekStart, now, true
	case "last week":
		return weekStart.AddDate(0, 0, -7), weekStart, true
	}
	return time.Time{}, time.Time{}, false
}
