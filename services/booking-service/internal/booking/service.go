package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hairhub/platform/services/booking-service/internal/apperr"
	"github.com/hairhub/platform/services/booking-service/internal/availability"
	"github.com/hairhub/platform/services/booking-service/internal/conflict"
	"github.com/hairhub/platform/services/booking-service/internal/lifecycle"
	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/outbox"
)

const (
	MaxNotesLength  = 500
	DefaultPageSize = 10
	MaxPageSize     = 100

	// MaxPage keeps page*size far from overflowing an int.
	MaxPage = 1 << 20
)

var errWorkerBusy = apperr.Conflict("worker already has an appointment at that time")

type Config struct {
	// Location is the zone weekly availability is expressed in.
	Location *time.Location
	SlotStep time.Duration
	Now      func() time.Time
}

type Service struct {
	dir    Directory
	store  Store
	logger *slog.Logger
	loc    *time.Location
	step   time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

func NewService(dir Directory, store Store, logger *slog.Logger, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotStep <= 0 {
		cfg.SlotStep = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		dir:    dir,
		store:  store,
		logger: logger,
		loc:    cfg.Location,
		step:   cfg.SlotStep,
		now:    cfg.Now,
		tracer: otel.Tracer("github.com/hairhub/platform/services/booking-service/internal/booking"),
	}
}

type CreateRequest struct {
	ClientID    string
	WorkerID    string
	ServiceID   string
	StartTime   time.Time
	ClientNotes string
}

// Details is an appointment with the data clients display next to it.
type Details struct {
	Appointment model.Appointment
	Service     model.Service
	Review      *model.Review
}

// Create books a PENDING appointment. Checks run in a fixed order and stop
// at the first failure: identities, active flags, business match,
// availability, then overlap under the worker's timeline lock.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ Details, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Create", trace.WithAttributes(
		attribute.String("worker.id", req.WorkerID),
		attribute.String("service.id", req.ServiceID),
	))
	defer func() { endSpan(span, err) }()

	if !req.StartTime.After(s.now()) {
		return Details{}, apperr.BadRequest("start time must be in the future")
	}
	if utf8.RuneCountInString(req.ClientNotes) > MaxNotesLength {
		return Details{}, apperr.BadRequest("client notes must be at most %d characters", MaxNotesLength)
	}

	if _, err := s.dir.GetUser(ctx, req.ClientID); err != nil {
		return Details{}, lookupErr("client", err)
	}
	worker, err := s.dir.GetWorker(ctx, req.WorkerID)
	if err != nil {
		return Details{}, lookupErr("worker", err)
	}
	svc, err := s.dir.GetService(ctx, req.ServiceID)
	if err != nil {
		return Details{}, lookupErr("service", err)
	}
	if err := checkBookable(worker, svc); err != nil {
		return Details{}, err
	}

	start := req.StartTime.UTC()
	end := start.Add(svc.Duration())

	entries, err := s.dir.ListAvailability(ctx, worker.ID)
	if err != nil {
		return Details{}, fmt.Errorf("list availability: %w", err)
	}
	if !availability.Fits(entries, start, svc.Duration(), s.loc) {
		return Details{}, apperr.BadRequest("worker not available at that time")
	}

	appt := model.Appointment{
		ClientID:    req.ClientID,
		WorkerID:    worker.ID,
		ServiceID:   svc.ID,
		BusinessID:  worker.BusinessID,
		StartTime:   start,
		EndTime:     end,
		Status:      model.StatusPending,
		ClientNotes: strings.TrimSpace(req.ClientNotes),
	}

	err = s.store.InBookingTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockWorkerTimeline(ctx, worker.ID); err != nil {
			return err
		}
		existing, err := tx.WorkerAppointmentsBetween(ctx, worker.ID, start, end)
		if err != nil {
			return err
		}
		if conflict.HasOverlap(existing, start, end) {
			return errWorkerBusy
		}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.AggregateAppointment, appt.ID, outbox.EventAppointmentBooked, bookedPayload(appt, svc))
		if err != nil {
			return err
		}
		return tx.Emit(ctx, evt)
	})
	if err != nil {
		if errors.Is(err, model.ErrSlotTaken) {
			return Details{}, errWorkerBusy
		}
		return Details{}, wrapInternal("create appointment", err)
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"worker_id", appt.WorkerID,
		"start_time", appt.StartTime.Format(time.RFC3339),
	)
	return Details{Appointment: appt, Service: svc}, nil
}

func (s *Service) Get(ctx context.Context, principal, id string) (Details, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return Details{}, lookupErr("appointment", err)
	}
	acc, err := s.accessFor(ctx, principal, appt)
	if err != nil {
		return Details{}, err
	}
	if !acc.any() {
		return Details{}, apperr.Forbidden("you do not have access to this appointment")
	}
	out, err := s.describe(ctx, []model.Appointment{appt})
	if err != nil {
		return Details{}, err
	}
	return out[0], nil
}

func (s *Service) ListClient(ctx context.Context, principal string, page, size int) (model.Page[Details], error) {
	page, size = NormalizePage(page, size)
	res, err := s.store.ListByClient(ctx, principal, page, size)
	if err != nil {
		return model.Page[Details]{}, fmt.Errorf("list client appointments: %w", err)
	}
	return s.describePage(ctx, res)
}

func (s *Service) ListUpcomingClient(ctx context.Context, principal string) ([]Details, error) {
	appts, err := s.store.ListUpcomingByClient(ctx, principal, s.now())
	if err != nil {
		return nil, fmt.Errorf("list upcoming client appointments: %w", err)
	}
	return s.describe(ctx, appts)
}

func (s *Service) ListWorker(ctx context.Context, principal, workerID string, page, size int) (model.Page[Details], error) {
	if err := s.authorizeWorkerCalendar(ctx, principal, workerID); err != nil {
		return model.Page[Details]{}, err
	}
	page, size = NormalizePage(page, size)
	res, err := s.store.ListByWorker(ctx, workerID, page, size)
	if err != nil {
		return model.Page[Details]{}, fmt.Errorf("list worker appointments: %w", err)
	}
	return s.describePage(ctx, res)
}

func (s *Service) ListUpcomingWorker(ctx context.Context, principal, workerID string) ([]Details, error) {
	if err := s.authorizeWorkerCalendar(ctx, principal, workerID); err != nil {
		return nil, err
	}
	appts, err := s.store.ListUpcomingByWorker(ctx, workerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list upcoming worker appointments: %w", err)
	}
	return s.describe(ctx, appts)
}

// UpdateStatus moves an appointment through the lifecycle. The row is
// re-read under lock so racing transitions are judged against committed state.
func (s *Service) UpdateStatus(ctx context.Context, principal, id string, requested model.Status, reason string) (_ Details, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.UpdateStatus", trace.WithAttributes(
		attribute.String("appointment.id", id),
		attribute.String("appointment.requested_status", string(requested)),
	))
	defer func() { endSpan(span, err) }()

	if !requested.Valid() {
		return Details{}, apperr.BadRequest("unknown appointment status %q", requested)
	}
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return Details{}, lookupErr("appointment", err)
	}
	acc, err := s.accessFor(ctx, principal, current)
	if err != nil {
		return Details{}, err
	}
	if !acc.any() {
		return Details{}, apperr.Forbidden("you do not have permission to modify this appointment")
	}

	var updated model.Appointment
	err = s.store.InBookingTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return lookupErr("appointment", err)
		}
		previous := appt.Status
		if err := lifecycle.Apply(&appt, requested, reason, acc.isClient); err != nil {
			return err
		}
		appt.UpdatedAt = s.now().UTC()
		if err := tx.UpdateAppointmentStatus(ctx, appt); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.AggregateAppointment, appt.ID, outbox.EventAppointmentStatusChanged,
			statusChangedPayload(appt, previous, principal))
		if err != nil {
			return err
		}
		if err := tx.Emit(ctx, evt); err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		return Details{}, wrapInternal("update appointment status", err)
	}

	s.logger.Info("appointment status changed",
		"appointment_id", updated.ID,
		"status", updated.Status,
		"actor_id", principal,
	)
	out, err := s.describe(ctx, []model.Appointment{updated})
	if err != nil {
		return Details{}, err
	}
	return out[0], nil
}

func (s *Service) Cancel(ctx context.Context, principal, id, reason string) (Details, error) {
	return s.UpdateStatus(ctx, principal, id, model.StatusCancelled, reason)
}

// AvailableSlots lists bookable start times for a worker and service on a
// local calendar date (YYYY-MM-DD).
func (s *Service) AvailableSlots(ctx context.Context, workerID, serviceID, date string) ([]availability.Interval, error) {
	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return nil, apperr.BadRequest("date must be formatted as YYYY-MM-DD")
	}
	worker, err := s.dir.GetWorker(ctx, workerID)
	if err != nil {
		return nil, lookupErr("worker", err)
	}
	svc, err := s.dir.GetService(ctx, serviceID)
	if err != nil {
		return nil, lookupErr("service", err)
	}
	if err := checkBookable(worker, svc); err != nil {
		return nil, err
	}
	entries, err := s.dir.ListAvailability(ctx, worker.ID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}

	windows := availability.DayWindows(entries, day, s.loc)
	if len(windows) == 0 {
		return []availability.Interval{}, nil
	}
	from, to := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		if w.Start.Before(from) {
			from = w.Start
		}
		if w.End.After(to) {
			to = w.End
		}
	}
	existing, err := s.store.WorkerAppointmentsBetween(ctx, worker.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load worker appointments: %w", err)
	}

	starts := availability.SlotsForDay(windows, svc.Duration(), s.step, conflict.Busy(existing), s.now())
	out := make([]availability.Interval, 0, len(starts))
	for _, t := range starts {
		out = append(out, availability.Interval{Start: t, End: t.Add(svc.Duration())})
	}
	return out, nil
}

func checkBookable(worker model.Worker, svc model.Service) error {
	if !worker.Active {
		return apperr.BadRequest("worker is not active")
	}
	if !svc.Active {
		return apperr.BadRequest("service is not active")
	}
	if svc.BusinessID != worker.BusinessID {
		return apperr.BadRequest("service does not belong to the worker's business")
	}
	if svc.DurationMinutes <= 0 {
		return apperr.BadRequest("service has no duration")
	}
	return nil
}

type access struct {
	isClient bool
	isWorker bool
	isOwner  bool
}

func (a access) any() bool {
	return a.isClient || a.isWorker || a.isOwner
}

// accessFor resolves the principal's relationship to an appointment. The
// worker and business lookups are skipped once the principal is the client.
func (s *Service) accessFor(ctx context.Context, principal string, appt model.Appointment) (access, error) {
	acc := access{isClient: principal != "" && appt.ClientID == principal}
	if acc.isClient || principal == "" {
		return acc, nil
	}
	worker, err := s.dir.GetWorker(ctx, appt.WorkerID)
	if err != nil {
		return access{}, lookupErr("worker", err)
	}
	acc.isWorker = worker.UserID == principal
	if acc.isWorker {
		return acc, nil
	}
	business, err := s.dir.GetBusiness(ctx, worker.BusinessID)
	if err != nil {
		return access{}, lookupErr("business", err)
	}
	acc.isOwner = business.OwnerID == principal
	return acc, nil
}

func (s *Service) authorizeWorkerCalendar(ctx context.Context, principal, workerID string) error {
	worker, err := s.dir.GetWorker(ctx, workerID)
	if err != nil {
		return lookupErr("worker", err)
	}
	if principal != "" && worker.UserID == principal {
		return nil
	}
	business, err := s.dir.GetBusiness(ctx, worker.BusinessID)
	if err != nil {
		return lookupErr("business", err)
	}
	if principal == "" || business.OwnerID != principal {
		return apperr.Forbidden("you do not have access to this worker's appointments")
	}
	return nil
}

func (s *Service) describePage(ctx context.Context, page model.Page[model.Appointment]) (model.Page[Details], error) {
	items, err := s.describe(ctx, page.Items)
	if err != nil {
		return model.Page[Details]{}, err
	}
	return model.Page[Details]{Items: items, Total: page.Total, Page: page.Page, Size: page.Size}, nil
}

// describe attaches service data and reviews. A service missing from the
// directory leaves the zero value rather than failing the read.
func (s *Service) describe(ctx context.Context, appts []model.Appointment) ([]Details, error) {
	out := make([]Details, 0, len(appts))
	if len(appts) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	reviews, err := s.store.ReviewsByAppointment(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load reviews: %w", err)
	}

	services := map[string]model.Service{}
	for _, a := range appts {
		svc, ok := services[a.ServiceID]
		if !ok {
			svc, err = s.dir.GetService(ctx, a.ServiceID)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("get service: %w", err)
			}
			services[a.ServiceID] = svc
		}
		d := Details{Appointment: a, Service: svc}
		if r, ok := reviews[a.ID]; ok {
			d.Review = &r
		}
		out = append(out, d)
	}
	return out, nil
}

// NormalizePage applies the default size and clamps the page window.
func NormalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func lookupErr(entity string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return apperr.NotFound(entity)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("get %s: %w", entity, err)
}

// wrapInternal passes classified errors through untouched.
func wrapInternal(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
		if apperr.KindOf(err) == apperr.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func bookedPayload(appt model.Appointment, svc model.Service) map[string]any {
	return map[string]any{
		"appointment_id": appt.ID,
		"client_id":      appt.ClientID,
		"worker_id":      appt.WorkerID,
		"service_id":     appt.ServiceID,
		"service_name":   svc.Name,
		"business_id":    appt.BusinessID,
		"start_time":     appt.StartTime.Format(time.RFC3339),
		"end_time":       appt.EndTime.Format(time.RFC3339),
		"status":         appt.Status,
	}
}

func statusChangedPayload(appt model.Appointment, previous model.Status, actorID string) map[string]any {
	return map[string]any{
		"appointment_id":      appt.ID,
		"client_id":           appt.ClientID,
		"worker_id":           appt.WorkerID,
		"business_id":         appt.BusinessID,
		"previous_status":     previous,
		"status":              appt.Status,
		"cancellation_reason": appt.CancellationReason,
		"actor_id":            actorID,
		"start_time":          appt.StartTime.Format(time.RFC3339),
	}
}
