package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSlotTaken is returned by stores when a write would overlap another
	// active appointment of the same worker.
	ErrSlotTaken = errors.New("worker time slot taken")
	// ErrAlreadyReviewed is returned by stores when an appointment already has a review.
	ErrAlreadyReviewed = errors.New("appointment already reviewed")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// BlocksTimeline reports whether an appointment in this status still occupies
// the worker's time.
func (s Status) BlocksTimeline() bool {
	return s != StatusCancelled && s != StatusNoShow
}

type User struct {
	ID       string
	FullName string
	Phone    string
}

type Business struct {
	ID            string
	OwnerID       string
	Name          string
	Address       string
	AverageRating *float64
	TotalReviews  int
}

type Worker struct {
	ID         string
	UserID     string
	BusinessID string
	Active     bool
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	Price           string
	Active          bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Availability is one weekly working block. DayOfWeek uses 0=Sunday and the
// block spans [StartMinute, EndMinute) minutes after local midnight.
type Availability struct {
	WorkerID    string
	DayOfWeek   int
	StartMinute int
	EndMinute   int
	Enabled     bool
}

type Appointment struct {
	ID                 string
	ClientID           string
	WorkerID           string
	ServiceID          string
	BusinessID         string
	StartTime          time.Time
	EndTime            time.Time
	Status             Status
	ClientNotes        string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Review struct {
	ID            string
	AppointmentID string
	BusinessID    string
	ClientID      string
	Rating        int
	Comment       string
	CreatedAt     time.Time
}

// Page is one slice of a list ordered by the store.
type Page[T any] struct {
	Items []T
	Total int
	Page  int
	Size  int
}

func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}
