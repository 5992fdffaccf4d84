package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"runnerhub/models"
)

type ListFilter struct {
	RequesterID string
	ProviderID  string
	Status      models.Status
}

// StatusChange is a compare-and-swap on status and version.
type StatusChange struct {
	BookingID       string
	ExpectedStatus  models.Status
	ExpectedVersion int64
	NewStatus       models.Status
	At              time.Time
}

// DetailsChange rewrites the editable fields of a pending booking, guarded
// by version like StatusChange.
type DetailsChange struct {
	BookingID       string
	ExpectedVersion int64
	Details         Details
	At              time.Time
}

// Details are the fields a requester may edit while the booking is pending.
type Details struct {
	Title       string
	Description string
	Location    string
	Notes       string
	ScheduledAt time.Time
	TotalAmount float64
}

func detailsOf(b models.Booking) Details {
	return Details{
		Title:       b.Title,
		Description: b.Description,
		Location:    b.Location,
		Notes:       b.Notes,
		ScheduledAt: b.ScheduledAt,
		TotalAmount: b.TotalAmount,
	}
}

type Repository interface {
	Insert(ctx context.Context, b models.Booking) error
	Get(ctx context.Context, id string) (models.Booking, error)
	List(ctx context.Context, f ListFilter) ([]models.Booking, error)
	// UpdateStatus applies c only if the stored status and version still
	// match; otherwise it fails with ErrConflict (or ErrNotFound).
	UpdateStatus(ctx context.Context, c StatusChange) (models.Booking, error)
	// UpdateDetails applies c only if the booking is still pending at the
	// expected version; otherwise ErrConflict (or ErrNotFound).
	UpdateDetails(ctx context.Context, c DetailsChange) (models.Booking, error)
}

// applyChange mutates b the same way every Repository must.
func applyChange(b *models.Booking, c StatusChange) {
	b.Status = c.NewStatus
	b.Version++
	b.UpdatedAt = c.At
	if c.NewStatus == models.StatusCompleted {
		at := c.At
		b.CompletedAt = &at
	}
}

type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[string]models.Booking)}
}

func (r *MemoryRepository) Insert(_ context.Context, b models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists: %w", b.ID, models.ErrConflict)
	}
	r.bookings[b.ID] = b
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return models.Booking{}, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	return b, nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.Booking{}
	for _, b := range r.bookings {
		if f.RequesterID != "" && b.RequesterID != f.RequesterID {
			continue
		}
		if f.ProviderID != "" && b.ProviderID != f.ProviderID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, c StatusChange) (models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[c.BookingID]
	if !ok {
		return models.Booking{}, fmt.Errorf("booking %s: %w", c.BookingID, models.ErrNotFound)
	}
	if b.Status != c.ExpectedStatus || b.Version != c.ExpectedVersion {
		return models.Booking{}, fmt.Errorf("booking %s changed to %s (v%d): %w", b.ID, b.Status, b.Version, models.ErrConflict)
	}
	applyChange(&b, c)
	r.bookings[b.ID] = b
	return b, nil
}

func (r *MemoryRepository) UpdateDetails(_ context.Context, c DetailsChange) (models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[c.BookingID]
	if !ok {
		return models.Booking{}, fmt.Errorf("booking %s: %w", c.BookingID, models.ErrNotFound)
	}
	if b.Status != models.StatusPending || b.Version != c.ExpectedVersion {
		return models.Booking{}, fmt.Errorf("booking %s changed to %s (v%d): %w", b.ID, b.Status, b.Version, models.ErrConflict)
	}
	d := c.Details
	b.Title = d.Title
	b.Description = d.Description
	b.Location = d.Location
	b.Notes = d.Notes
	b.ScheduledAt = d.ScheduledAt
	b.TotalAmount = d.TotalAmount
	b.Version++
	b.UpdatedAt = c.At
	r.bookings[b.ID] = b
	return b, nil
}
