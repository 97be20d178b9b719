package schedule

import (
	"fmt"
	"time"

	"roster-scan/internal/config"
	"roster-scan/internal/title"
)

// Day is one date of a range.
type Day struct {
	Offset int
	Date   time.Time
	Label  string
}

// Label formats a date as "<Weekday> <day> <Month> <Year>" with the configured
// weekday and month names. The weekday comes from the calendar, never from the table.
func Label(date time.Time, cfg config.Config) string {
	return fmt.Sprintf("%s %d %s %d",
		cfg.Weekdays[date.Weekday()], date.Day(), cfg.Months[date.Month()-1], date.Year())
}

// Days lists every date of r with its label.
func Days(r title.DateRange, cfg config.Config) []Day {
	days := make([]Day, r.Days())
	for i := range days {
		d := r.Date(i)
		days[i] = Day{Offset: i, Date: d, Label: Label(d, cfg)}
	}
	return days
}
