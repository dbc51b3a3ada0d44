package review_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hairhub/platform/services/booking-service/internal/apperr"
	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/outbox"
	"github.com/hairhub/platform/services/booking-service/internal/review"
	"github.com/hairhub/platform/services/booking-service/internal/storage"
)

const (
	clientID   = "client-1"
	businessID = "biz-1"
)

func newFixture(t *testing.T) (*review.Service, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	mem.PutBusiness(model.Business{ID: businessID, OwnerID: "owner-1", Name: "Fade Factory"})
	return review.NewService(mem, mem, slog.New(slog.NewTextHandler(io.Discard, nil))), mem
}

func putAppointment(mem *storage.Memory, id, client string, status model.Status) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mem.PutAppointment(model.Appointment{
		ID:         id,
		ClientID:   client,
		WorkerID:   "worker-1",
		ServiceID:  "svc-1",
		BusinessID: businessID,
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     status,
	})
}

func TestCreateUpdatesBusinessRating(t *testing.T) {
	svc, mem := newFixture(t)
	ctx := context.Background()

	for i, score := range []int{5, 4, 4, 4} {
		id := fmt.Sprintf("appt-%d", i)
		putAppointment(mem, id, clientID, model.StatusCompleted)
		if _, err := svc.Create(ctx, clientID, id, score, "  great cut "); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	biz, err := mem.GetBusiness(ctx, businessID)
	if err != nil {
		t.Fatalf("GetBusiness: %v", err)
	}
	// 17/4 = 4.25 rounds half up.
	if biz.AverageRating == nil || *biz.AverageRating != 4.3 || biz.TotalReviews != 4 {
		t.Fatalf("unexpected aggregate %v/%d", biz.AverageRating, biz.TotalReviews)
	}

	reviews, err := svc.ListByBusiness(ctx, businessID)
	if err != nil || len(reviews) != 4 {
		t.Fatalf("ListByBusiness: %v (%d)", err, len(reviews))
	}
	if reviews[0].Comment != "great cut" {
		t.Fatalf("expected trimmed comment, got %q", reviews[0].Comment)
	}

	var created, updated int
	for _, evt := range mem.Events() {
		switch evt.EventType {
		case outbox.EventReviewCreated:
			created++
		case outbox.EventBusinessRatingUpdated:
			updated++
		}
	}
	if created != 4 || updated != 4 {
		t.Fatalf("expected 4/4 events, got %d/%d", created, updated)
	}
}

func TestCreateRules(t *testing.T) {
	svc, mem := newFixture(t)
	ctx := context.Background()
	putAppointment(mem, "done", clientID, model.StatusCompleted)
	putAppointment(mem, "pending", clientID, model.StatusPending)

	cases := []struct {
		name      string
		principal string
		apptID    string
		rating    int
		comment   string
		kind      apperr.Kind
	}{
		{"rating too low", clientID, "done", 0, "", apperr.KindBadRequest},
		{"rating too high", clientID, "done", 6, "", apperr.KindBadRequest},
		{"comment too long", clientID, "done", 5, strings.Repeat("a", review.MaxCommentLength+1), apperr.KindBadRequest},
		{"unknown appointment", clientID, "ghost", 5, "", apperr.KindNotFound},
		{"not the client", "someone-else", "done", 5, "", apperr.KindForbidden},
		{"not completed", clientID, "pending", 5, "", apperr.KindBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.principal, tc.apptID, tc.rating, tc.comment)
			if apperr.KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}

	if _, err := svc.Create(ctx, clientID, "done", 3, ""); err != nil {
		t.Fatalf("first review: %v", err)
	}
	_, err := svc.Create(ctx, clientID, "done", 4, "")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict on second review, got %v", err)
	}

	if _, err := svc.ListByBusiness(ctx, "ghost"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentReviewsOnePerAppointment(t *testing.T) {
	svc, mem := newFixture(t)
	ctx := context.Background()
	putAppointment(mem, "done", clientID, model.StatusCompleted)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, clientID, "done", 5, "")
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if apperr.KindOf(err) != apperr.KindConflict {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if success != 1 {
		t.Fatalf("expected exactly one review, got %d", success)
	}
}

func TestConcurrentReviewsKeepAggregateConsistent(t *testing.T) {
	svc, mem := newFixture(t)
	ctx := context.Background()

	const n = 30
	for i := 0; i < n; i++ {
		putAppointment(mem, fmt.Sprintf("appt-%d", i), clientID, model.StatusCompleted)
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Create(ctx, clientID, fmt.Sprintf("appt-%d", i), 1+i%5, ""); err != nil {
				t.Errorf("Create: %v", err)
			}
		}(i)
	}
	wg.Wait()

	biz, _ := mem.GetBusiness(ctx, businessID)
	// Scores cycle 1..5 evenly, so the mean is exactly 3.
	if biz.TotalReviews != n || biz.AverageRating == nil || *biz.AverageRating != 3.0 {
		t.Fatalf("unexpected aggregate %v/%d", biz.AverageRating, biz.TotalReviews)
	}
}

func TestRecompute(t *testing.T) {
	svc, mem := newFixture(t)
	ctx := context.Background()
	putAppointment(mem, "done", clientID, model.StatusCompleted)
	if _, err := svc.Create(ctx, clientID, "done", 4, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	changed, err := svc.Recompute(ctx, businessID)
	if err != nil || changed {
		t.Fatalf("in-sync aggregate should not change: %v %v", changed, err)
	}

	stale := 1.0
	mem.PutBusiness(model.Business{ID: businessID, OwnerID: "owner-1", AverageRating: &stale, TotalReviews: 9})
	changed, err = svc.Recompute(ctx, businessID)
	if err != nil || !changed {
		t.Fatalf("stale aggregate should be repaired: %v %v", changed, err)
	}
	biz, _ := mem.GetBusiness(ctx, businessID)
	if *biz.AverageRating != 4.0 || biz.TotalReviews != 1 {
		t.Fatalf("unexpected aggregate %v/%d", *biz.AverageRating, biz.TotalReviews)
	}
}
