package history

import (
	"strings"
	"time"

	"github.com/nerrad567/modbus-mw/internal/device"
)

// Window is the kind of time range a query pages through.
type Window string

// Supported windows.
const (
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowAll   Window = "all"
)

// defaultAllRange is used for the all window when a device has no samples.
const defaultAllRange = 30 * 24 * time.Hour

// ParseWindow accepts canonical names and the legacy 1sem, 1mes and todo
// aliases. Anything else is a week.
func ParseWindow(s string) Window {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month", "1mes":
		return WindowMonth
	case "all", "todo":
		return WindowAll
	default:
		return WindowWeek
	}
}

// Period maps the window to its history bucket. The all window has none.
func (w Window) Period() (device.Period, bool) {
	switch w {
	case WindowWeek:
		return device.PeriodWeek, true
	case WindowMonth:
		return device.PeriodMonth, true
	default:
		return "", false
	}
}

// WeekRange returns the seven day block ending page weeks before now,
// truncated to whole UTC days.
func WeekRange(now time.Time, page int) (start, end time.Time) {
	page = max(page, 0)
	now = now.UTC()
	last := time.Date(now.Year(), now.Month(), now.Day()-7*page, 0, 0, 0, 0, time.UTC)
	start = last.AddDate(0, 0, -6)
	end = last.Add(24*time.Hour - time.Microsecond)
	return start, end
}

// MonthRange returns the calendar month page months before the month of now.
// The end is one microsecond before the next month starts.
func MonthRange(now time.Time, page int) (start, end time.Time) {
	page = max(page, 0)
	now = now.UTC()
	start = time.Date(now.Year(), now.Month()-time.Month(page), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0).Add(-time.Microsecond)
	return start, end
}
