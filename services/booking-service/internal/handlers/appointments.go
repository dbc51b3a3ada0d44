package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hairhub/platform/libs/httpx"
	"github.com/hairhub/platform/services/booking-service/internal/apperr"
	"github.com/hairhub/platform/services/booking-service/internal/booking"
	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/review"
)

type BookingHandler struct {
	bookings *booking.Service
	reviews  *review.Service
	logger   *slog.Logger
}

func NewBookingHandler(bookings *booking.Service, reviews *review.Service, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, reviews: reviews, logger: logger}
}

// Register mounts every route on mux. writeLimit wraps the endpoints that
// create appointments or reviews.
func (h *BookingHandler) Register(mux *http.ServeMux, writeLimit httpx.Middleware) {
	if writeLimit == nil {
		writeLimit = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST /api/v1/appointments", writeLimit(h.authed(h.Create)))
	mux.Handle("GET /api/v1/appointments/my", h.authed(h.ListMine))
	mux.Handle("GET /api/v1/appointments/my/upcoming", h.authed(h.ListMyUpcoming))
	mux.Handle("GET /api/v1/appointments/worker/{workerId}", h.authed(h.ListWorker))
	mux.Handle("GET /api/v1/appointments/worker/{workerId}/upcoming", h.authed(h.ListWorkerUpcoming))
	mux.Handle("GET /api/v1/appointments/{id}", h.authed(h.Get))
	mux.Handle("PATCH /api/v1/appointments/{id}", h.authed(h.UpdateStatus))
	mux.Handle("POST /api/v1/appointments/{id}/cancel", h.authed(h.Cancel))
	mux.Handle("POST /api/v1/appointments/{id}/review", writeLimit(h.authed(h.CreateReview)))
	mux.HandleFunc("GET /api/v1/businesses/{businessId}/reviews", h.ListBusinessReviews)
	mux.HandleFunc("GET /api/v1/public/slots", h.Slots)
}

type authedFunc func(w http.ResponseWriter, r *http.Request, principal string)

func (h *BookingHandler) authed(fn authedFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principal(r)
		if p == "" {
			writeUnauthorized(w)
			return
		}
		fn(w, r, p)
	})
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request, p string) {
	var req createAppointmentRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.WorkerID == "" || req.ServiceID == "" || strings.TrimSpace(req.StartTime) == "" {
		writeProblem(w, apperr.KindBadRequest, "worker_id, service_id and start_time are required")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		writeProblem(w, apperr.KindBadRequest, "start_time must be an RFC 3339 timestamp")
		return
	}

	d, err := h.bookings.Create(r.Context(), booking.CreateRequest{
		ClientID:    p,
		WorkerID:    req.WorkerID,
		ServiceID:   req.ServiceID,
		StartTime:   start,
		ClientNotes: req.ClientNotes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(d))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request, p string) {
	d, err := h.bookings.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(d))
}

func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request, p string) {
	page, size, err := pageParams(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.bookings.ListClient(r.Context(), p, page, size)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(res))
}

func (h *BookingHandler) ListMyUpcoming(w http.ResponseWriter, r *http.Request, p string) {
	items, err := h.bookings.ListUpcomingClient(r.Context(), p)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(items))
}

func (h *BookingHandler) ListWorker(w http.ResponseWriter, r *http.Request, p string) {
	page, size, err := pageParams(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.bookings.ListWorker(r.Context(), p, r.PathValue("workerId"), page, size)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(res))
}

func (h *BookingHandler) ListWorkerUpcoming(w http.ResponseWriter, r *http.Request, p string) {
	items, err := h.bookings.ListUpcomingWorker(r.Context(), p, r.PathValue("workerId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(items))
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request, p string) {
	var req updateStatusRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := model.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == "" {
		writeProblem(w, apperr.KindBadRequest, "status is required")
		return
	}
	d, err := h.bookings.UpdateStatus(r.Context(), p, r.PathValue("id"), status, req.CancellationReason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(d))
}

// Cancel takes the reason from the JSON body, falling back to ?reason=.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request, p string) {
	var req cancelRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reason := req.Reason
	if strings.TrimSpace(reason) == "" {
		reason = r.URL.Query().Get("reason")
	}
	d, err := h.bookings.Cancel(r.Context(), p, r.PathValue("id"), reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(d))
}

func (h *BookingHandler) CreateReview(w http.ResponseWriter, r *http.Request, p string) {
	var req createReviewRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rv, err := h.reviews.Create(r.Context(), p, r.PathValue("id"), req.Rating, req.Comment)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReviewResponse(rv))
}

func (h *BookingHandler) ListBusinessReviews(w http.ResponseWriter, r *http.Request) {
	items, err := h.reviews.ListByBusiness(r.Context(), r.PathValue("businessId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]reviewResponse, 0, len(items))
	for _, rv := range items {
		out = append(out, toReviewResponse(rv))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workerID := strings.TrimSpace(q.Get("worker_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	date := strings.TrimSpace(q.Get("date"))
	if workerID == "" || serviceID == "" || date == "" {
		writeProblem(w, apperr.KindBadRequest, "worker_id, service_id and date are required")
		return
	}
	slots, err := h.bookings.AvailableSlots(r.Context(), workerID, serviceID, date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{
		WorkerID:  workerID,
		ServiceID: serviceID,
		Date:      date,
		Slots:     toSlotItems(slots),
	})
}
