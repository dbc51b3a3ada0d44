// Package review records client reviews of completed appointments and keeps
// the business rating projection in step with them.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hairhub/platform/services/booking-service/internal/apperr"
	"github.com/hairhub/platform/services/booking-service/internal/model"
	"github.com/hairhub/platform/services/booking-service/internal/outbox"
	"github.com/hairhub/platform/services/booking-service/internal/rating"
)

const MaxCommentLength = 2000

var errAlreadyReviewed = apperr.Conflict("appointment already has a review")

// Tx is the write scope of one review. LockBusiness must serialize every
// writer of the same business's rating until the transaction ends.
type Tx interface {
	LockAppointment(ctx context.Context, id string) (model.Appointment, error)
	ReviewExists(ctx context.Context, appointmentID string) (bool, error)
	// InsertReview assigns ID and CreatedAt. It returns
	// model.ErrAlreadyReviewed when the store rejects a second review.
	InsertReview(ctx context.Context, r *model.Review) error
	LockBusiness(ctx context.Context, businessID string) error
	BusinessRatings(ctx context.Context, businessID string) ([]int, error)
	SetBusinessRating(ctx context.Context, businessID string, agg rating.Aggregate) error
	Emit(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	InReviewTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ListBusinessReviews returns reviews newest first.
	ListBusinessReviews(ctx context.Context, businessID string) ([]model.Review, error)
}

type Businesses interface {
	GetBusiness(ctx context.Context, id string) (model.Business, error)
}

type Service struct {
	store      Store
	businesses Businesses
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewService(store Store, businesses Businesses, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		businesses: businesses,
		logger:     logger,
		tracer:     otel.Tracer("github.com/hairhub/platform/services/booking-service/internal/review"),
	}
}

// Create stores the review and recomputes the business aggregate in the
// same transaction, so the projection always matches the stored reviews.
func (s *Service) Create(ctx context.Context, principal, appointmentID string, score int, comment string) (model.Review, error) {
	ctx, span := s.tracer.Start(ctx, "review.Create", trace.WithAttributes(
		attribute.String("appointment.id", appointmentID),
	))
	defer span.End()

	if !rating.Valid(score) {
		return model.Review{}, apperr.BadRequest("rating must be between %d and %d", rating.Min, rating.Max)
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return model.Review{}, apperr.BadRequest("comment must be at most %d characters", MaxCommentLength)
	}

	var (
		created model.Review
		agg     rating.Aggregate
	)
	err := s.store.InReviewTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return apperr.NotFound("appointment")
			}
			return err
		}
		if principal == "" || appt.ClientID != principal {
			return apperr.Forbidden("only the client can review this appointment")
		}
		if appt.Status != model.StatusCompleted {
			return apperr.BadRequest("only completed appointments can be reviewed")
		}
		exists, err := tx.ReviewExists(ctx, appt.ID)
		if err != nil {
			return err
		}
		if exists {
			return errAlreadyReviewed
		}

		created = model.Review{
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			ClientID:      principal,
			Rating:        score,
			Comment:       comment,
		}
		if err := tx.InsertReview(ctx, &created); err != nil {
			return err
		}

		if err := tx.LockBusiness(ctx, appt.BusinessID); err != nil {
			return err
		}
		ratings, err := tx.BusinessRatings(ctx, appt.BusinessID)
		if err != nil {
			return err
		}
		var ok bool
		agg, ok = rating.Compute(ratings)
		if ok {
			if err := tx.SetBusinessRating(ctx, appt.BusinessID, agg); err != nil {
				return err
			}
		}

		evt, err := outbox.NewEvent(outbox.AggregateAppointment, appt.ID, outbox.EventReviewCreated, map[string]any{
			"review_id":      created.ID,
			"appointment_id": appt.ID,
			"business_id":    appt.BusinessID,
			"client_id":      principal,
			"rating":         score,
		})
		if err != nil {
			return err
		}
		if err := tx.Emit(ctx, evt); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		evt, err = outbox.NewEvent(outbox.AggregateBusiness, appt.BusinessID, outbox.EventBusinessRatingUpdated, map[string]any{
			"business_id":    appt.BusinessID,
			"average_rating": agg.Average,
			"total_reviews":  agg.Total,
		})
		if err != nil {
			return err
		}
		return tx.Emit(ctx, evt)
	})
	if err != nil {
		if errors.Is(err, model.ErrAlreadyReviewed) {
			return model.Review{}, errAlreadyReviewed
		}
		if apperr.KindOf(err) != apperr.KindInternal {
			return model.Review{}, err
		}
		span.RecordError(err)
		return model.Review{}, fmt.Errorf("create review: %w", err)
	}

	s.logger.Info("review created",
		"review_id", created.ID,
		"business_id", created.BusinessID,
		"average_rating", agg.Average,
		"total_reviews", agg.Total,
	)
	return created, nil
}

func (s *Service) ListByBusiness(ctx context.Context, businessID string) ([]model.Review, error) {
	if _, err := s.businesses.GetBusiness(ctx, businessID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, apperr.NotFound("business")
		}
		return nil, fmt.Errorf("get business: %w", err)
	}
	reviews, err := s.store.ListBusinessReviews(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

// Recompute rebuilds one business's aggregate from its stored reviews. It
// reports whether the stored projection changed.
func (s *Service) Recompute(ctx context.Context, businessID string) (bool, error) {
	var changed bool
	err := s.store.InReviewTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockBusiness(ctx, businessID); err != nil {
			return err
		}
		ratings, err := tx.BusinessRatings(ctx, businessID)
		if err != nil {
			return err
		}
		agg, ok := rating.Compute(ratings)
		if !ok {
			return nil
		}
		biz, err := s.businesses.GetBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if biz.AverageRating != nil && *biz.AverageRating == agg.Average && biz.TotalReviews == agg.Total {
			return nil
		}
		changed = true
		return tx.SetBusinessRating(ctx, businessID, agg)
	})
	if err != nil {
		return false, fmt.Errorf("recompute rating %s: %w", businessID, err)
	}
	return changed, nil
}
