package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"runnerhub/locks"
	"runnerhub/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleListener receives every persisted transition. It is called while
// the booking's lock is still held, so it must not take that lock again.
type LifecycleListener interface {
	BookingTransitioned(ctx context.Context, evt models.LifecycleEvent)
}

type CreateRequest struct {
	ProviderID  string    `json:"provider_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Notes       string    `json:"notes"`
	ScheduledAt time.Time `json:"scheduled_at"`
	TotalAmount float64   `json:"total_amount"`
}

// UpdateRequest carries the fields to change. Nil fields keep their value.
type UpdateRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	Notes       *string    `json:"notes"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	TotalAmount *float64   `json:"total_amount"`
}

type ListRequest struct {
	AsProvider bool
	All        bool
	Status     models.Status
}

type Service struct {
	repo     Repository
	locks    *locks.Keyed
	listener LifecycleListener
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, keyed *locks.Keyed, log *zap.Logger) *Service {
	return &Service{
		repo:  repo,
		locks: keyed,
		log:   log.Named("booking"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetListener wires the lifecycle consumer. The hub needs the service's
// store and the service needs the hub, so this is set after construction.
func (s *Service) SetListener(l LifecycleListener) {
	s.listener = l
}

func (s *Service) Create(ctx context.Context, actor models.Identity, req CreateRequest) (models.Booking, error) {
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Title = strings.TrimSpace(req.Title)

	switch {
	case actor.ID == "":
		return models.Booking{}, fmt.Errorf("anonymous caller: %w", models.ErrForbidden)
	case req.ProviderID == "":
		return models.Booking{}, fmt.Errorf("provider_id is required: %w", models.ErrValidation)
	case req.ProviderID == actor.ID:
		return models.Booking{}, fmt.Errorf("cannot book yourself: %w", models.ErrValidation)
	case req.Title == "":
		return models.Booking{}, fmt.Errorf("title is required: %w", models.ErrValidation)
	case req.ScheduledAt.IsZero():
		return models.Booking{}, fmt.Errorf("scheduled_at is required: %w", models.ErrValidation)
	case req.TotalAmount < 0:
		return models.Booking{}, fmt.Errorf("total_amount must not be negative: %w", models.ErrValidation)
	}

	now := s.now()
	b := models.Booking{
		ID:          uuid.NewString(),
		RequesterID: actor.ID,
		ProviderID:  req.ProviderID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Notes:       req.Notes,
		Status:      models.StatusPending,
		Version:     1,
		ScheduledAt: req.ScheduledAt.UTC(),
		TotalAmount: req.TotalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, b); err != nil {
		return models.Booking{}, err
	}
	s.log.Info("booking created",
		zap.String("booking", b.ID),
		zap.String("requester", b.RequesterID),
		zap.String("provider", b.ProviderID))
	return b, nil
}

// Get returns the booking if actor may see it.
func (s *Service) Get(ctx context.Context, actor models.Identity, id string) (models.Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.Booking{}, err
	}
	if !CanAccess(b, actor) {
		return models.Booking{}, fmt.Errorf("booking %s: %w", id, models.ErrForbidden)
	}
	return b, nil
}

// Lookup fetches a booking without an authorization check, for components
// that apply CanAccess themselves.
func (s *Service) Lookup(ctx context.Context, id string) (models.Booking, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, actor models.Identity, req ListRequest) ([]models.Booking, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", req.Status, models.ErrValidation)
	}

	f := ListFilter{Status: req.Status}
	switch {
	case req.All:
		if !actor.Staff() {
			return nil, fmt.Errorf("listing all bookings: %w", models.ErrForbidden)
		}
	case req.AsProvider:
		f.ProviderID = actor.ID
	default:
		f.RequesterID = actor.ID
	}
	return s.repo.List(ctx, f)
}

// Update edits a pending booking. Only the requester may do it, and the
// parties and status never change here.
func (s *Service) Update(ctx context.Context, bookingID string, actor models.Identity, req UpdateRequest) (models.Booking, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	current, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if actor.ID == "" || actor.ID != current.RequesterID {
		return models.Booking{}, fmt.Errorf("only the requester may edit booking %s: %w", bookingID, models.ErrForbidden)
	}
	if current.Status != models.StatusPending {
		return models.Booking{}, fmt.Errorf("cannot edit a booking that is %s: %w", current.Status, models.ErrInvalidTransition)
	}

	d := detailsOf(current)
	if req.Title != nil {
		d.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		d.Description = *req.Description
	}
	if req.Location != nil {
		d.Location = *req.Location
	}
	if req.Notes != nil {
		d.Notes = *req.Notes
	}
	if req.ScheduledAt != nil {
		d.ScheduledAt = req.ScheduledAt.UTC()
	}
	if req.TotalAmount != nil {
		d.TotalAmount = *req.TotalAmount
	}
	switch {
	case d.Title == "":
		return models.Booking{}, fmt.Errorf("title is required: %w", models.ErrValidation)
	case d.ScheduledAt.IsZero():
		return models.Booking{}, fmt.Errorf("scheduled_at is required: %w", models.ErrValidation)
	case d.TotalAmount < 0:
		return models.Booking{}, fmt.Errorf("total_amount must not be negative: %w", models.ErrValidation)
	}

	updated, err := s.repo.UpdateDetails(ctx, DetailsChange{
		BookingID:       current.ID,
		ExpectedVersion: current.Version,
		Details:         d,
		At:              s.now(),
	})
	if err != nil {
		return models.Booking{}, err
	}
	s.log.Info("booking updated",
		zap.String("booking", bookingID),
		zap.Int64("version", updated.Version))
	return updated, nil
}

// RequestTransition moves a booking along the state machine. A Conflict
// means the stored booking changed after it was read; the caller should
// re-fetch and decide again. It is never retried here.
func (s *Service) RequestTransition(ctx context.Context, bookingID string, actor models.Identity, action models.Action) (models.Booking, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	current, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}

	next, err := Decide(current, actor, action)
	if err != nil {
		s.log.Debug("transition rejected",
			zap.String("booking", bookingID),
			zap.String("actor", actor.ID),
			zap.String("action", string(action)),
			zap.Error(err))
		return models.Booking{}, err
	}

	at := s.now()
	updated, err := s.repo.UpdateStatus(ctx, StatusChange{
		BookingID:       current.ID,
		ExpectedStatus:  current.Status,
		ExpectedVersion: current.Version,
		NewStatus:       next,
		At:              at,
	})
	if err != nil {
		return models.Booking{}, err
	}

	s.log.Info("booking transitioned",
		zap.String("booking", bookingID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)),
		zap.String("actor", actor.ID))

	if s.listener != nil {
		s.listener.BookingTransitioned(ctx, models.LifecycleEvent{
			BookingID: bookingID,
			OldStatus: current.Status,
			NewStatus: next,
			Action:    action,
			Actor:     actor,
			At:        at,
		})
	}
	return updated, nil
}
