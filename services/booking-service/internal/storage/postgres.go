package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hairhub/platform/libs/db"
	"github.com/hairhub/platform/services/booking-service/internal/booking"
	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/outbox"
	"github.com/hairhub/platform/services/booking-service/internal/rating"
	"github.com/hairhub/platform/services/booking-service/internal/review"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations holds the schema files applied by db.Migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	constraintNoOverlap     = "appointments_no_overlap"
	constraintReviewPerAppt = "reviews_appointment_id_key"
)

const (
	appointmentColumns = `id::text, client_id::text, worker_id::text, service_id::text, business_id::text,
		start_time, end_time, status, client_notes, cancellation_reason, created_at, updated_at`
	reviewColumns = `id::text, appointment_id::text, business_id::text, client_id::text, rating, comment, created_at`
)

// Postgres implements booking.Store, review.Store and booking.Directory.
type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool, events *outbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: events}
}

var (
	_ booking.Store     = (*Postgres)(nil)
	_ booking.Directory = (*Postgres)(nil)
	_ review.Store      = (*Postgres)(nil)
)

func (p *Postgres) InBookingTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, outbox: p.outbox})
	})
}

func (p *Postgres) InReviewTx(ctx context.Context, fn func(ctx context.Context, tx review.Tx) error) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, outbox: p.outbox})
	})
}

// Directory

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
	if !validID(id) {
		return model.User{}, model.ErrNotFound
	}
	var u model.User
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, full_name, phone FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.FullName, &u.Phone)
	return u, notFound(err)
}

func (p *Postgres) GetWorker(ctx context.Context, id string) (model.Worker, error) {
	if !validID(id) {
		return model.Worker{}, model.ErrNotFound
	}
	var w model.Worker
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, business_id::text, active FROM workers WHERE id = $1
	`, id).Scan(&w.ID, &w.UserID, &w.BusinessID, &w.Active)
	return w, notFound(err)
}

func (p *Postgres) GetService(ctx context.Context, id string) (model.Service, error) {
	if !validID(id) {
		return model.Service{}, model.ErrNotFound
	}
	var s model.Service
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price::text, active
		FROM services WHERE id = $1
	`, id).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.Price, &s.Active)
	return s, notFound(err)
}

func (p *Postgres) GetBusiness(ctx context.Context, id string) (model.Business, error) {
	if !validID(id) {
		return model.Business{}, model.ErrNotFound
	}
	var b model.Business
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, address, average_rating::float8, total_reviews
		FROM businesses WHERE id = $1
	`, id).Scan(&b.ID, &b.OwnerID, &b.Name, &b.Address, &b.AverageRating, &b.TotalReviews)
	return b, notFound(err)
}

func (p *Postgres) ListAvailability(ctx context.Context, workerID string) ([]model.Availability, error) {
	if !validID(workerID) {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT worker_id::text, day_of_week, start_minute, end_minute, enabled
		FROM worker_availability
		WHERE worker_id = $1
		ORDER BY day_of_week, start_minute
	`, workerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Availability, error) {
		var a model.Availability
		err := row.Scan(&a.WorkerID, &a.DayOfWeek, &a.StartMinute, &a.EndMinute, &a.Enabled)
		return a, err
	})
}

// ReviewedBusinessIDs lists every business holding at least one review.
func (p *Postgres) ReviewedBusinessIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT business_id::text FROM reviews ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Reads

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, model.ErrNotFound
	}
	appt, err := scanAppointment(p.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments WHERE id = $1
	`, id))
	return appt, notFound(err)
}

func (p *Postgres) ListByClient(ctx context.Context, clientID string, page, size int) (model.Page[model.Appointment], error) {
	return p.listPage(ctx, "client_id", clientID, page, size)
}

func (p *Postgres) ListByWorker(ctx context.Context, workerID string, page, size int) (model.Page[model.Appointment], error) {
	return p.listPage(ctx, "worker_id", workerID, page, size)
}

// listPage is only called with a fixed column name.
func (p *Postgres) listPage(ctx context.Context, column, id string, page, size int) (model.Page[model.Appointment], error) {
	out := model.Page[model.Appointment]{Items: []model.Appointment{}, Page: page, Size: size}
	offset := page * size
	if !validID(id) || size <= 0 || page < 0 || offset < 0 || offset/size != page {
		return out, nil
	}
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE `+column+` = $1`, id).Scan(&out.Total); err != nil {
		return out, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY start_time DESC, id
		LIMIT $2 OFFSET $3
	`, id, size, offset)
	if err != nil {
		return out, err
	}
	items, err := collectAppointments(rows)
	if err != nil {
		return out, err
	}
	out.Items = items
	return out, nil
}

func (p *Postgres) ListUpcomingByClient(ctx context.Context, clientID string, from time.Time) ([]model.Appointment, error) {
	return p.listUpcoming(ctx, "client_id", clientID, from)
}

func (p *Postgres) ListUpcomingByWorker(ctx context.Context, workerID string, from time.Time) ([]model.Appointment, error) {
	return p.listUpcoming(ctx, "worker_id", workerID, from)
}

func (p *Postgres) listUpcoming(ctx context.Context, column, id string, from time.Time) ([]model.Appointment, error) {
	if !validID(id) {
		return []model.Appointment{}, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		  AND start_time >= $2
		  AND status IN ('PENDING', 'CONFIRMED')
		ORDER BY start_time, id
	`, id, from)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (p *Postgres) WorkerAppointmentsBetween(ctx context.Context, workerID string, start, end time.Time) ([]model.Appointment, error) {
	return workerAppointmentsBetween(ctx, p.pool, workerID, start, end)
}

func (p *Postgres) ReviewsByAppointment(ctx context.Context, appointmentIDs []string) (map[string]model.Review, error) {
	ids := make([]string, 0, len(appointmentIDs))
	for _, id := range appointmentIDs {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	out := make(map[string]model.Review, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+reviewColumns+` FROM reviews WHERE appointment_id = ANY($1::text[]::uuid[])
	`, ids)
	if err != nil {
		return nil, err
	}
	reviews, err := pgx.CollectRows(rows, scanReview)
	if err != nil {
		return nil, err
	}
	for _, r := range reviews {
		out[r.AppointmentID] = r
	}
	return out, nil
}

func (p *Postgres) ListBusinessReviews(ctx context.Context, businessID string) ([]model.Review, error) {
	if !validID(businessID) {
		return []model.Review{}, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE business_id = $1
		ORDER BY created_at DESC, id
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanReview)
}

// pgTx serves both booking.Tx and review.Tx on one pgx transaction.
type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) LockWorkerTimeline(ctx context.Context, workerID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('worker:' || $1, 0))`, workerID)
	return err
}

func (t *pgTx) WorkerAppointmentsBetween(ctx context.Context, workerID string, start, end time.Time) ([]model.Appointment, error) {
	return workerAppointmentsBetween(ctx, t.tx, workerID, start, end)
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(client_id, worker_id, service_id, business_id, start_time, end_time, status, client_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, created_at, updated_at
	`, appt.ClientID, appt.WorkerID, appt.ServiceID, appt.BusinessID,
		appt.StartTime, appt.EndTime, string(appt.Status), appt.ClientNotes,
	).Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
	if db.IsExclusionViolation(err, constraintNoOverlap) {
		return model.ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	appt.CreatedAt = appt.CreatedAt.UTC()
	appt.UpdatedAt = appt.UpdatedAt.UTC()
	return nil
}

func (t *pgTx) LockAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, model.ErrNotFound
	}
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE
	`, id))
	return appt, notFound(err)
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, appt model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, cancellation_reason = $3, updated_at = $4
		WHERE id = $1
	`, appt.ID, string(appt.Status), appt.CancellationReason, appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *pgTx) Emit(ctx context.Context, evt outbox.Event) error {
	if err := t.outbox.Insert(ctx, t.tx, evt); err != nil {
		return fmt.Errorf("insert outbox %s: %w", evt.EventType, err)
	}
	return nil
}

func (t *pgTx) ReviewExists(ctx context.Context, appointmentID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reviews WHERE appointment_id = $1)`, appointmentID).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertReview(ctx context.Context, r *model.Review) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO reviews (appointment_id, business_id, client_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, created_at
	`, r.AppointmentID, r.BusinessID, r.ClientID, r.Rating, r.Comment).Scan(&r.ID, &r.CreatedAt)
	if db.IsUniqueViolation(err, constraintReviewPerAppt) {
		return model.ErrAlreadyReviewed
	}
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

func (t *pgTx) LockBusiness(ctx context.Context, businessID string) error {
	if !validID(businessID) {
		return model.ErrNotFound
	}
	var id string
	err := t.tx.QueryRow(ctx, `SELECT id::text FROM businesses WHERE id = $1 FOR UPDATE`, businessID).Scan(&id)
	return notFound(err)
}

func (t *pgTx) BusinessRatings(ctx context.Context, businessID string) ([]int, error) {
	rows, err := t.tx.Query(ctx, `SELECT rating::int FROM reviews WHERE business_id = $1`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (t *pgTx) SetBusinessRating(ctx context.Context, businessID string, agg rating.Aggregate) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE businesses
		SET average_rating = $2, total_reviews = $3, updated_at = now()
		WHERE id = $1
	`, businessID, agg.Average, agg.Total)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func workerAppointmentsBetween(ctx context.Context, q querier, workerID string, start, end time.Time) ([]model.Appointment, error) {
	if !validID(workerID) {
		return []model.Appointment{}, nil
	}
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE worker_id = $1
		  AND start_time < $3
		  AND end_time > $2
		  AND status NOT IN ('CANCELLED', 'NO_SHOW')
		ORDER BY start_time
	`, workerID, start, end)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.ClientID, &a.WorkerID, &a.ServiceID, &a.BusinessID,
		&a.StartTime, &a.EndTime, &status, &a.ClientNotes, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func scanReview(row pgx.CollectableRow) (model.Review, error) {
	var r model.Review
	err := row.Scan(&r.ID, &r.AppointmentID, &r.BusinessID, &r.ClientID, &r.Rating, &r.Comment, &r.CreatedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, err
}

func notFound(err error) error {
	if db.IsNoRows(err) {
		return model.ErrNotFound
	}
	return err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
