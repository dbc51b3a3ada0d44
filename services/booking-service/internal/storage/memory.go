package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hairhub/platform/services/booking-service/internal/booking"
	"github.com/hairhub/platform/services/booking-service/internal/conflict"
	"github.com/hairhub/platform/services/booking-service/internal/keylock"
	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/outbox"
	"github.com/hairhub/platform/services/booking-service/internal/rating"
	"github.com/hairhub/platform/services/booking-service/internal/review"
)

// Memory is an in-process store for local runs and tests. Transactions take
// per-key locks, buffer their writes and commit them atomically, re-checking
// the overlap and one-review rules the way the database constraints do.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]model.User
	businesses   map[string]model.Business
	workers      map[string]model.Worker
	services     map[string]model.Service
	availability map[string][]model.Availability
	appointments map[string]model.Appointment
	reviews      map[string]model.Review // keyed by appointment id
	events       []outbox.Event

	locks *keylock.Map
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:        map[string]model.User{},
		businesses:   map[string]model.Business{},
		workers:      map[string]model.Worker{},
		services:     map[string]model.Service{},
		availability: map[string][]model.Availability{},
		appointments: map[string]model.Appointment{},
		reviews:      map[string]model.Review{},
		locks:        keylock.New(),
		now:          time.Now,
	}
}

var (
	_ booking.Store     = (*Memory)(nil)
	_ booking.Directory = (*Memory)(nil)
	_ review.Store      = (*Memory)(nil)
)

// SetClock replaces the source of created and updated timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) PutUser(u model.User) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *Memory) PutBusiness(b model.Business) {
	m.mu.Lock()
	m.businesses[b.ID] = b
	m.mu.Unlock()
}

func (m *Memory) PutWorker(w model.Worker) {
	m.mu.Lock()
	m.workers[w.ID] = w
	m.mu.Unlock()
}

func (m *Memory) PutService(s model.Service) {
	m.mu.Lock()
	m.services[s.ID] = s
	m.mu.Unlock()
}

// PutAvailability replaces the weekly schedule of one worker.
func (m *Memory) PutAvailability(workerID string, entries ...model.Availability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Availability, 0, len(entries))
	for _, e := range entries {
		e.WorkerID = workerID
		out = append(out, e)
	}
	m.availability[workerID] = out
}

// PutAppointment stores an appointment as if it had been committed.
func (m *Memory) PutAppointment(a model.Appointment) {
	m.mu.Lock()
	m.appointments[a.ID] = a
	m.mu.Unlock()
}

// Events returns every event emitted by committed transactions, oldest first.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Event(nil), m.events...)
}

func (m *Memory) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetWorker(_ context.Context, id string) (model.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return model.Worker{}, model.ErrNotFound
	}
	return w, nil
}

func (m *Memory) GetService(_ context.Context, id string) (model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return model.Service{}, model.ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetBusiness(_ context.Context, id string) (model.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	if !ok {
		return model.Business{}, model.ErrNotFound
	}
	if b.AverageRating != nil {
		avg := *b.AverageRating
		b.AverageRating = &avg
	}
	return b, nil
}

func (m *Memory) ListAvailability(_ context.Context, workerID string) ([]model.Availability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Availability(nil), m.availability[workerID]...), nil
}

func (m *Memory) ReviewedBusinessIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range m.reviews {
		if !seen[r.BusinessID] {
			seen[r.BusinessID] = true
			out = append(out, r.BusinessID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListByClient(_ context.Context, clientID string, page, size int) (model.Page[model.Appointment], error) {
	return m.listPage(func(a model.Appointment) bool { return a.ClientID == clientID }, page, size), nil
}

func (m *Memory) ListByWorker(_ context.Context, workerID string, page, size int) (model.Page[model.Appointment], error) {
	return m.listPage(func(a model.Appointment) bool { return a.WorkerID == workerID }, page, size), nil
}

func (m *Memory) listPage(match func(model.Appointment) bool, page, size int) model.Page[model.Appointment] {
	all := m.filter(match)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartTime.Equal(all[j].StartTime) {
			return all[i].StartTime.After(all[j].StartTime)
		}
		return all[i].ID < all[j].ID
	})
	out := model.Page[model.Appointment]{Items: []model.Appointment{}, Total: len(all), Page: page, Size: size}
	from := page * size
	if size <= 0 || from < 0 || from >= len(all) {
		return out
	}
	to := from + size
	if to > len(all) {
		to = len(all)
	}
	out.Items = append(out.Items, all[from:to]...)
	return out
}

func (m *Memory) ListUpcomingByClient(_ context.Context, clientID string, from time.Time) ([]model.Appointment, error) {
	return m.upcoming(func(a model.Appointment) bool { return a.ClientID == clientID }, from), nil
}

func (m *Memory) ListUpcomingByWorker(_ context.Context, workerID string, from time.Time) ([]model.Appointment, error) {
	return m.upcoming(func(a model.Appointment) bool { return a.WorkerID == workerID }, from), nil
}

func (m *Memory) upcoming(match func(model.Appointment) bool, from time.Time) []model.Appointment {
	all := m.filter(func(a model.Appointment) bool {
		return match(a) &&
			(a.Status == model.StatusPending || a.Status == model.StatusConfirmed) &&
			!a.StartTime.Before(from)
	})
	sortByStart(all)
	return all
}

func (m *Memory) WorkerAppointmentsBetween(_ context.Context, workerID string, start, end time.Time) ([]model.Appointment, error) {
	all := m.filter(func(a model.Appointment) bool {
		return a.WorkerID == workerID && conflict.Overlaps(a, start, end)
	})
	sortByStart(all)
	return all, nil
}

func (m *Memory) ReviewsByAppointment(_ context.Context, appointmentIDs []string) (map[string]model.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.Review, len(appointmentIDs))
	for _, id := range appointmentIDs {
		if r, ok := m.reviews[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (m *Memory) ListBusinessReviews(_ context.Context, businessID string) ([]model.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Review{}
	for _, r := range m.reviews {
		if r.BusinessID == businessID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) filter(match func(model.Appointment) bool) []model.Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	if out == nil {
		out = []model.Appointment{}
	}
	return out
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].StartTime.Before(appts[j].StartTime)
		}
		return appts[i].ID < appts[j].ID
	})
}

func (m *Memory) InBookingTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx := m.begin()
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) InReviewTx(ctx context.Context, fn func(ctx context.Context, tx review.Tx) error) error {
	tx := m.begin()
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) begin() *memTx {
	return &memTx{
		store:        m,
		held:         map[string]func(){},
		appointments: map[string]model.Appointment{},
		ratings:      map[string]rating.Aggregate{},
	}
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range tx.inserted {
		if !a.Status.BlocksTimeline() {
			continue
		}
		for _, other := range m.appointments {
			if other.WorkerID == a.WorkerID && conflict.Overlaps(other, a.StartTime, a.EndTime) {
				return model.ErrSlotTaken
			}
		}
	}
	for _, r := range tx.reviews {
		if _, ok := m.reviews[r.AppointmentID]; ok {
			return model.ErrAlreadyReviewed
		}
	}

	for id, a := range tx.appointments {
		m.appointments[id] = a
	}
	for _, r := range tx.reviews {
		m.reviews[r.AppointmentID] = r
	}
	for id, agg := range tx.ratings {
		b, ok := m.businesses[id]
		if !ok {
			continue
		}
		avg := agg.Average
		b.AverageRating = &avg
		b.TotalReviews = agg.Total
		m.businesses[id] = b
	}
	m.events = append(m.events, tx.events...)
	return nil
}

func (m *Memory) timestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().UTC()
}

// memTx buffers writes until commit. Locks are held until release.
type memTx struct {
	store *Memory
	held  map[string]func()

	appointments map[string]model.Appointment
	inserted     []model.Appointment
	reviews      []model.Review
	ratings      map[string]rating.Aggregate
	events       []outbox.Event
}

func (t *memTx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	t.held[key] = t.store.locks.Lock(key)
}

func (t *memTx) release() {
	for _, unlock := range t.held {
		unlock()
	}
}

func (t *memTx) LockWorkerTimeline(ctx context.Context, workerID string) error {
	t.lock("worker:" + workerID)
	return ctx.Err()
}

func (t *memTx) WorkerAppointmentsBetween(ctx context.Context, workerID string, start, end time.Time) ([]model.Appointment, error) {
	committed, err := t.store.WorkerAppointmentsBetween(ctx, workerID, start, end)
	if err != nil {
		return nil, err
	}
	out := committed[:0]
	for _, a := range committed {
		if _, ok := t.appointments[a.ID]; !ok {
			out = append(out, a)
		}
	}
	for _, a := range t.appointments {
		if a.WorkerID == workerID && conflict.Overlaps(a, start, end) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	now := t.store.timestamp()
	appt.ID = uuid.NewString()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	t.appointments[appt.ID] = *appt
	t.inserted = append(t.inserted, *appt)
	return nil
}

func (t *memTx) LockAppointment(ctx context.Context, id string) (model.Appointment, error) {
	t.lock("appointment:" + id)
	if a, ok := t.appointments[id]; ok {
		return a, nil
	}
	return t.store.GetAppointment(ctx, id)
}

func (t *memTx) UpdateAppointmentStatus(ctx context.Context, appt model.Appointment) error {
	if _, ok := t.appointments[appt.ID]; !ok {
		if _, err := t.store.GetAppointment(ctx, appt.ID); err != nil {
			return err
		}
	}
	t.appointments[appt.ID] = appt
	return nil
}

func (t *memTx) Emit(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *memTx) ReviewExists(_ context.Context, appointmentID string) (bool, error) {
	for _, r := range t.reviews {
		if r.AppointmentID == appointmentID {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.reviews[appointmentID]
	return ok, nil
}

func (t *memTx) InsertReview(ctx context.Context, r *model.Review) error {
	exists, err := t.ReviewExists(ctx, r.AppointmentID)
	if err != nil {
		return err
	}
	if exists {
		return model.ErrAlreadyReviewed
	}
	r.ID = uuid.NewString()
	r.CreatedAt = t.store.timestamp()
	t.reviews = append(t.reviews, *r)
	return nil
}

func (t *memTx) LockBusiness(ctx context.Context, businessID string) error {
	t.lock("business:" + businessID)
	_, err := t.store.GetBusiness(ctx, businessID)
	return err
}

func (t *memTx) BusinessRatings(_ context.Context, businessID string) ([]int, error) {
	var out []int
	t.store.mu.RLock()
	for _, r := range t.store.reviews {
		if r.BusinessID == businessID {
			out = append(out, r.Rating)
		}
	}
	t.store.mu.RUnlock()
	for _, r := range t.reviews {
		if r.BusinessID == businessID {
			out = append(out, r.Rating)
		}
	}
	return out, nil
}

func (t *memTx) SetBusinessRating(_ context.Context, businessID string, agg rating.Aggregate) error {
	t.ratings[businessID] = agg
	return nil
}
