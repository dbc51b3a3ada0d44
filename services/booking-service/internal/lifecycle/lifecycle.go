// Package lifecycle is the appointment state machine:
//
//	PENDING   -> CONFIRMED | CANCELLED
//	CONFIRMED -> COMPLETED | CANCELLED | NO_SHOW
//
// COMPLETED, CANCELLED and NO_SHOW are terminal.
package lifecycle

import (
	"strings"
	"unicode/utf8"

	"github.com/hairhub/platform/services/booking-service/internal/apperr"
	"github.com/hairhub/platform/services/booking-service/internal/model"
)

const MaxReasonLength = 500

var transitions = map[model.Status][]model.Status{
	model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
}

// ValidateTransition checks, in order: client actors may only cancel, terminal
// states never move, and the pair must be an edge of the state machine.
func ValidateTransition(current, requested model.Status, isClient bool) error {
	if isClient && requested != model.StatusCancelled {
		return apperr.Forbidden("clients can only cancel appointments")
	}
	if current.Terminal() {
		return apperr.Conflict("appointment is already finalized")
	}
	next, ok := transitions[current]
	if !ok {
		return apperr.BadRequest("unknown appointment status %q", current)
	}
	for _, s := range next {
		if s == requested {
			return nil
		}
	}
	return apperr.BadRequest("invalid status transition from %s to %s", current, requested)
}

// Apply validates the transition and mutates status and cancellation reason
// only. Cancelling requires a reason; any other transition clears it.
func Apply(appt *model.Appointment, requested model.Status, reason string, isClient bool) error {
	if err := ValidateTransition(appt.Status, requested, isClient); err != nil {
		return err
	}
	if requested != model.StatusCancelled {
		appt.Status = requested
		appt.CancellationReason = ""
		return nil
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.BadRequest("cancellation reason is required")
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return apperr.BadRequest("cancellation reason must be at most %d characters", MaxReasonLength)
	}
	appt.Status = model.StatusCancelled
	appt.CancellationReason = reason
	return nil
}
