package handlers

import (
	"time"

	"github.com/hairhub/platform/services/booking-service/internal/availability"
	"github.com/hairhub/platform/services/booking-service/internal/booking"
	"github.com/hairhub/platform/services/booking-service/internal/model"
)

type createAppointmentRequest struct {
	WorkerID    string `json:"worker_id"`
	ServiceID   string `json:"service_id"`
	StartTime   string `json:"start_time"`
	ClientNotes string `json:"client_notes"`
}

type updateStatusRequest struct {
	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type appointmentResponse struct {
	ID                 string          `json:"id"`
	ClientID           string          `json:"client_id"`
	WorkerID           string          `json:"worker_id"`
	ServiceID          string          `json:"service_id"`
	ServiceName        string          `json:"service_name"`
	ServicePrice       string          `json:"service_price"`
	DurationMinutes    int             `json:"duration_minutes"`
	BusinessID         string          `json:"business_id"`
	StartTime          string          `json:"start_time"`
	EndTime            string          `json:"end_time"`
	Status             model.Status    `json:"status"`
	ClientNotes        string          `json:"client_notes,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
	HasReview          bool            `json:"has_review"`
	Review             *reviewResponse `json:"review,omitempty"`
}

type reviewResponse struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	ClientID      string `json:"client_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type pageResponse[T any] struct {
	Content       []T  `json:"content"`
	TotalElements int  `json:"total_elements"`
	TotalPages    int  `json:"total_pages"`
	CurrentPage   int  `json:"current_page"`
	PageSize      int  `json:"page_size"`
	First         bool `json:"first"`
	Last          bool `json:"last"`
	Empty         bool `json:"empty"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotsResponse struct {
	WorkerID  string     `json:"worker_id"`
	ServiceID string     `json:"service_id"`
	Date      string     `json:"date"`
	Slots     []slotItem `json:"slots"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAppointmentResponse(d booking.Details) appointmentResponse {
	a := d.Appointment
	out := appointmentResponse{
		ID:                 a.ID,
		ClientID:           a.ClientID,
		WorkerID:           a.WorkerID,
		ServiceID:          a.ServiceID,
		ServiceName:        d.Service.Name,
		ServicePrice:       d.Service.Price,
		DurationMinutes:    d.Service.DurationMinutes,
		BusinessID:         a.BusinessID,
		StartTime:          formatTime(a.StartTime),
		EndTime:            formatTime(a.EndTime),
		Status:             a.Status,
		ClientNotes:        a.ClientNotes,
		CancellationReason: a.CancellationReason,
		CreatedAt:          formatTime(a.CreatedAt),
		UpdatedAt:          formatTime(a.UpdatedAt),
		HasReview:          d.Review != nil,
	}
	if d.Review != nil {
		r := toReviewResponse(*d.Review)
		out.Review = &r
	}
	return out
}

func toAppointmentList(items []booking.Details) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toAppointmentResponse(d))
	}
	return out
}

func toReviewResponse(r model.Review) reviewResponse {
	return reviewResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		BusinessID:    r.BusinessID,
		ClientID:      r.ClientID,
		Rating:        r.Rating,
		Comment:       r.Comment,
		CreatedAt:     formatTime(r.CreatedAt),
	}
}

func toPageResponse(p model.Page[booking.Details]) pageResponse[appointmentResponse] {
	pages := p.TotalPages()
	return pageResponse[appointmentResponse]{
		Content:       toAppointmentList(p.Items),
		TotalElements: p.Total,
		TotalPages:    pages,
		CurrentPage:   p.Page,
		PageSize:      p.Size,
		First:         p.Page == 0,
		Last:          p.Page >= pages-1,
		Empty:         len(p.Items) == 0,
	}
}

func toSlotItems(slots []availability.Interval) []slotItem {
	out := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotItem{StartTime: formatTime(s.Start), EndTime: formatTime(s.End)})
	}
	return out
}
