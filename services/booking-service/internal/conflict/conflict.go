// Package conflict decides whether a candidate interval collides with a
// worker's existing appointments. Callers must hold the worker's timeline
// scope (see booking.Tx) between the check and the write.
package conflict

import (
	"time"

	"github.com/hairhub/platform/services/booking-service/internal/availability"
	"github.com/hairhub/platform/services/booking-service/internal/model"
)

// Overlaps reports whether appt still occupies any part of [start, end).
// Cancelled and no-show appointments never overlap; touching ends do not count.
func Overlaps(appt model.Appointment, start, end time.Time) bool {
	if !appt.Status.BlocksTimeline() {
		return false
	}
	return appt.StartTime.Before(end) && appt.EndTime.After(start)
}

func HasOverlap(existing []model.Appointment, start, end time.Time) bool {
	for _, appt := range existing {
		if Overlaps(appt, start, end) {
			return true
		}
	}
	return false
}

// Busy converts the appointments that still block the timeline into intervals.
func Busy(existing []model.Appointment) []availability.Interval {
	out := make([]availability.Interval, 0, len(existing))
	for _, appt := range existing {
		if appt.Status.BlocksTimeline() {
			out = append(out, availability.Interval{Start: appt.StartTime, End: appt.EndTime})
		}
	}
	return out
}
