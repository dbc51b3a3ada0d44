package availability

import (
	"time"

	"github.com/hairhub/platform/services/booking-service/internal/model"
)

// LocalClock returns t's day of week (0=Sunday) in loc and its wall clock
// offset from that day's midnight.
func LocalClock(t time.Time, loc *time.Location) (int, time.Duration) {
	local := t.In(loc)
	h, m, s := local.Clock()
	offset := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(local.Nanosecond())
	return int(local.Weekday()), offset
}

// IsWithinAvailability reports whether [start, end), given as offsets from
// local midnight, fits inside one enabled block for day. Blocks are never
// merged, and an end past midnight never fits.
func IsWithinAvailability(entries []model.Availability, day int, start, end time.Duration) bool {
	if end <= start {
		return false
	}
	for _, e := range entries {
		if !e.Enabled || e.DayOfWeek != day || e.EndMinute <= e.StartMinute {
			continue
		}
		blockStart := time.Duration(e.StartMinute) * time.Minute
		blockEnd := time.Duration(e.EndMinute) * time.Minute
		if start >= blockStart && end <= blockEnd {
			return true
		}
	}
	return false
}

// Fits is IsWithinAvailability for an absolute start time and duration. The
// end is read off the local clock after adding duration, so DST shifts count.
func Fits(entries []model.Availability, start time.Time, duration time.Duration, loc *time.Location) bool {
	if duration <= 0 {
		return false
	}
	day, offset := LocalClock(start, loc)
	end := start.Add(duration)
	_, endOffset := LocalClock(end, loc)
	if !sameLocalDate(start, end, loc) {
		// Midnight closes the day as 24:00; anything later spills over.
		if endOffset != 0 || !sameLocalDate(start, end.Add(-time.Nanosecond), loc) {
			return false
		}
		endOffset = 24 * time.Hour
	}
	return IsWithinAvailability(entries, day, offset, endOffset)
}

func sameLocalDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayWindows returns the enabled blocks of the local calendar day holding
// date as absolute intervals, in entry order.
func DayWindows(entries []model.Availability, date time.Time, loc *time.Location) []Interval {
	local := date.In(loc)
	y, mo, d := local.Date()
	day := int(local.Weekday())

	var out []Interval
	for _, e := range entries {
		if !e.Enabled || e.DayOfWeek != day || e.EndMinute <= e.StartMinute {
			continue
		}
		out = append(out, Interval{
			Start: time.Date(y, mo, d, 0, e.StartMinute, 0, 0, loc),
			End:   time.Date(y, mo, d, 0, e.EndMinute, 0, 0, loc),
		})
	}
	return out
}
