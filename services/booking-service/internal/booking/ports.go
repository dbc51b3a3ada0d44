package booking

import (
	"context"
	"time"

	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/outbox"
)

// Directory resolves identities owned by the surrounding platform. Every
// lookup returns model.ErrNotFound for unknown ids.
type Directory interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	GetWorker(ctx context.Context, id string) (model.Worker, error)
	GetService(ctx context.Context, id string) (model.Service, error)
	GetBusiness(ctx context.Context, id string) (model.Business, error)
	ListAvailability(ctx context.Context, workerID string) ([]model.Availability, error)
}

// Tx is the write scope of one booking operation. Locks taken through it are
// released when the transaction ends.
type Tx interface {
	// LockWorkerTimeline serializes check-then-write on one worker's calendar.
	LockWorkerTimeline(ctx context.Context, workerID string) error
	WorkerAppointmentsBetween(ctx context.Context, workerID string, start, end time.Time) ([]model.Appointment, error)
	// InsertAppointment assigns ID and timestamps. It returns model.ErrSlotTaken
	// when the store itself detects an overlapping active appointment.
	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	LockAppointment(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, appt model.Appointment) error
	Emit(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	InBookingTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	// ListByClient and ListByWorker order by start time, newest first.
	ListByClient(ctx context.Context, clientID string, page, size int) (model.Page[model.Appointment], error)
	ListByWorker(ctx context.Context, workerID string, page, size int) (model.Page[model.Appointment], error)
	// Upcoming lists hold PENDING and CONFIRMED appointments starting at or
	// after from, soonest first.
	ListUpcomingByClient(ctx context.Context, clientID string, from time.Time) ([]model.Appointment, error)
	ListUpcomingByWorker(ctx context.Context, workerID string, from time.Time) ([]model.Appointment, error)
	WorkerAppointmentsBetween(ctx context.Context, workerID string, start, end time.Time) ([]model.Appointment, error)
	ReviewsByAppointment(ctx context.Context, appointmentIDs []string) (map[string]model.Review, error)
}
