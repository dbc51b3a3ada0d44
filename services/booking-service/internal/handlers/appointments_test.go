package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hairhub/platform/libs/httpx"
	"github.com/hairhub/platform/services/booking-service/internal/booking"
	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/review"
	"github.com/hairhub/platform/services/booking-service/internal/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (http.Handler, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	mem.SetClock(func() time.Time { return testNow })
	for _, id := range []string{"client-1", "client-2", "owner-1", "worker-user-1"} {
		mem.PutUser(model.User{ID: id})
	}
	mem.PutBusiness(model.Business{ID: "biz-1", OwnerID: "owner-1", Name: "Fade Factory"})
	mem.PutWorker(model.Worker{ID: "worker-1", UserID: "worker-user-1", BusinessID: "biz-1", Active: true})
	mem.PutService(model.Service{ID: "svc-1", BusinessID: "biz-1", Name: "Haircut", DurationMinutes: 30, Price: "25.00", Active: true})
	mem.PutAvailability("worker-1", model.Availability{DayOfWeek: 1, StartMinute: 540, EndMinute: 1080, Enabled: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bookings := booking.NewService(mem, mem, logger, booking.Config{Now: func() time.Time { return testNow }})
	reviews := review.NewService(mem, mem, logger)

	mux := http.NewServeMux()
	NewBookingHandler(bookings, reviews, logger).Register(mux, nil)
	return httpx.Chain(mux, httpx.WithRequestID), mem
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set(httpx.UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createAppointment(t *testing.T, h http.Handler, start string) appointmentResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/appointments", "client-1",
		`{"worker_id":"worker-1","service_id":"svc-1","start_time":"`+start+`","client_notes":"short on top"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[appointmentResponse](t, rec)
}

func TestCreateAppointmentFlow(t *testing.T) {
	h, _ := newTestServer(t)

	appt := createAppointment(t, h, "2026-03-02T10:00:00Z")
	if appt.Status != model.StatusPending || appt.EndTime != "2026-03-02T10:30:00Z" {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if appt.ServiceName != "Haircut" || appt.DurationMinutes != 30 || appt.HasReview {
		t.Fatalf("response not enriched: %+v", appt)
	}

	cases := []struct {
		name  string
		user  string
		body  string
		code  int
		error string
	}{
		{"overlap", "client-2", `{"worker_id":"worker-1","service_id":"svc-1","start_time":"2026-03-02T10:15:00Z"}`, http.StatusConflict, "conflict"},
		{"outside hours", "client-2", `{"worker_id":"worker-1","service_id":"svc-1","start_time":"2026-03-02T18:15:00Z"}`, http.StatusBadRequest, "bad_request"},
		{"bad timestamp", "client-2", `{"worker_id":"worker-1","service_id":"svc-1","start_time":"tomorrow"}`, http.StatusBadRequest, "bad_request"},
		{"missing fields", "client-2", `{"worker_id":"worker-1"}`, http.StatusBadRequest, "bad_request"},
		{"unknown worker", "client-2", `{"worker_id":"nope","service_id":"svc-1","start_time":"2026-03-02T12:00:00Z"}`, http.StatusNotFound, "not_found"},
		{"bad json", "client-2", `{`, http.StatusBadRequest, "bad_request"},
		{"anonymous", "", `{}`, http.StatusUnauthorized, "unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/appointments", tc.user, tc.body)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
			if got := decode[errorResponse](t, rec); got.Error != tc.error || got.Message == "" {
				t.Fatalf("unexpected error body %+v", got)
			}
		})
	}
}

func TestStatusCancelAndReviewFlow(t *testing.T) {
	h, mem := newTestServer(t)
	appt := createAppointment(t, h, "2026-03-02T10:00:00Z")
	base := "/api/v1/appointments/" + appt.ID

	if rec := do(t, h, http.MethodPatch, base, "client-1", `{"status":"CONFIRMED"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("client confirm: expected 403, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, base, "client-2", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger get: expected 403, got %d", rec.Code)
	}
	for _, s := range []string{"confirmed", "COMPLETED"} {
		rec := do(t, h, http.MethodPatch, base, "worker-user-1", `{"status":"`+s+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("move to %s: %d %s", s, rec.Code, rec.Body.String())
		}
	}
	if rec := do(t, h, http.MethodPost, base+"/cancel?reason=sick", "client-1", ""); rec.Code != http.StatusConflict {
		t.Fatalf("cancel finalized: expected 409, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, base+"/review", "client-1", `{"rating":5,"comment":"sharp"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("review: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, base+"/review", "client-1", `{"rating":4}`); rec.Code != http.StatusConflict {
		t.Fatalf("second review: expected 409, got %d", rec.Code)
	}

	got := decode[appointmentResponse](t, do(t, h, http.MethodGet, base, "owner-1", ""))
	if !got.HasReview || got.Review == nil || got.Review.Rating != 5 {
		t.Fatalf("review not attached: %+v", got)
	}

	list := decode[[]reviewResponse](t, do(t, h, http.MethodGet, "/api/v1/businesses/biz-1/reviews", "", ""))
	if len(list) != 1 || list[0].Comment != "sharp" {
		t.Fatalf("unexpected reviews %+v", list)
	}
	biz, _ := mem.GetBusiness(t.Context(), "biz-1")
	if biz.AverageRating == nil || *biz.AverageRating != 5.0 {
		t.Fatalf("rating not projected: %+v", biz)
	}
}

func TestCancelReasonFromBodyOrQuery(t *testing.T) {
	h, _ := newTestServer(t)
	first := createAppointment(t, h, "2026-03-02T10:00:00Z")
	second := createAppointment(t, h, "2026-03-02T11:00:00Z")

	if rec := do(t, h, http.MethodPost, "/api/v1/appointments/"+first.ID+"/cancel", "client-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing reason: expected 400, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/appointments/"+first.ID+"/cancel", "client-1", `{"reason":"changed plans"}`)
	if got := decode[appointmentResponse](t, rec); got.Status != model.StatusCancelled || got.CancellationReason != "changed plans" {
		t.Fatalf("body reason: %d %+v", rec.Code, got)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/appointments/"+second.ID+"/cancel?reason=flu", "client-1", "")
	if got := decode[appointmentResponse](t, rec); got.CancellationReason != "flu" {
		t.Fatalf("query reason: %d %+v", rec.Code, got)
	}
}

func TestListsAndSlots(t *testing.T) {
	h, _ := newTestServer(t)
	for _, start := range []string{"2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z"} {
		createAppointment(t, h, start)
	}

	page := decode[pageResponse[appointmentResponse]](t, do(t, h, http.MethodGet, "/api/v1/appointments/my?page=0&size=2", "client-1", ""))
	if page.TotalElements != 3 || page.TotalPages != 2 || len(page.Content) != 2 || !page.First || page.Last {
		t.Fatalf("unexpected page %+v", page)
	}
	far := do(t, h, http.MethodGet, "/api/v1/appointments/my?page=922337203685477581&size=10", "client-1", "")
	if far.Code != http.StatusOK {
		t.Fatalf("huge page: expected 200, got %d: %s", far.Code, far.Body.String())
	}
	if got := decode[pageResponse[appointmentResponse]](t, far); len(got.Content) != 0 || got.TotalElements != 3 || !got.Empty {
		t.Fatalf("huge page: unexpected %+v", got)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/appointments/my?page=x", "client-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad page param: expected 400, got %d", rec.Code)
	}

	upcoming := decode[[]appointmentResponse](t, do(t, h, http.MethodGet, "/api/v1/appointments/worker/worker-1/upcoming", "worker-user-1", ""))
	if len(upcoming) != 3 || upcoming[0].StartTime != "2026-03-02T09:00:00Z" {
		t.Fatalf("unexpected upcoming %+v", upcoming)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/appointments/worker/worker-1", "client-1", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("client on worker calendar: expected 403, got %d", rec.Code)
	}

	slots := decode[slotsResponse](t, do(t, h, http.MethodGet, "/api/v1/public/slots?worker_id=worker-1&service_id=svc-1&date=2026-03-02", "", ""))
	for _, s := range slots.Slots {
		if s.StartTime == "2026-03-02T10:00:00Z" || s.StartTime == "2026-03-02T08:45:00Z" {
			t.Fatalf("unexpected slot %s", s.StartTime)
		}
	}
	if len(slots.Slots) == 0 || slots.Slots[0].StartTime != "2026-03-02T09:30:00Z" {
		t.Fatalf("unexpected slots %+v", slots.Slots)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/public/slots?worker_id=worker-1", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing params: expected 400, got %d", rec.Code)
	}
}
