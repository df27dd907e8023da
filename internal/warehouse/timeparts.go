package warehouse

import "time"

// TimeParts is one row of the time dimension.
type TimeParts struct {
	Start   time.Time
	Hour    int
	Day     int
	Week    int // ISO 8601 week number
	Month   int
	Year    int
	Weekday int // Monday=0 ... Sunday=6
}

// DecomposeMillis converts epoch milliseconds into calendar fields in UTC.
func DecomposeMillis(ms int64) TimeParts {
	t := time.UnixMilli(ms).UTC()
	_, week := t.ISOWeek()
	return TimeParts{
		Start:   t,
		Hour:    t.Hour(),
		Day:     t.Day(),
		Week:    week,
		Month:   int(t.Month()),
		Year:    t.Year(),
		Weekday: (int(t.Weekday()) + 6) % 7,
	}
}

func (p TimeParts) row() []any {
	return []any{p.Start, p.Hour, p.Day, p.Week, p.Month, p.Year, p.Weekday}
}
