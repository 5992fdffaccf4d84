package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"runnerhub/models"
)

// ErrDuplicateSequence means another writer already stored this sequence
// number for the booking.
var ErrDuplicateSequence = errors.New("duplicate sequence")

type Repository interface {
	// LastSequence returns the highest stored sequence, 0 for none.
	LastSequence(ctx context.Context, bookingID string) (int64, error)
	// Insert stores m or fails with ErrDuplicateSequence.
	Insert(ctx context.Context, m models.Message) error
	// Since returns messages with sequence > since in ascending order.
	Since(ctx context.Context, bookingID string, since int64) ([]models.Message, error)
	// CountAfter counts messages past since that were not sent by excludeSender.
	CountAfter(ctx context.Context, bookingID string, since int64, excludeSender string) (int64, error)

	// AdvanceCursor moves the cursor forward to seq; it never moves back.
	AdvanceCursor(ctx context.Context, bookingID, identityID string, seq int64, at time.Time) (models.ReadCursor, error)
	Cursor(ctx context.Context, bookingID, identityID string) (models.ReadCursor, error)
}

type cursorKey struct {
	booking  string
	identity string
}

type MemoryRepository struct {
	mu       sync.RWMutex
	messages map[string][]models.Message
	cursors  map[cursorKey]models.ReadCursor
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		messages: make(map[string][]models.Message),
		cursors:  make(map[cursorKey]models.ReadCursor),
	}
}

func (r *MemoryRepository) LastSequence(_ context.Context, bookingID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.messages[bookingID]
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].Sequence, nil
}

func (r *MemoryRepository) Insert(_ context.Context, m models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[m.BookingID]
	var last int64
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].Sequence
	}
	if m.Sequence <= last {
		return fmt.Errorf("booking %s sequence %d: %w", m.BookingID, m.Sequence, ErrDuplicateSequence)
	}
	r.messages[m.BookingID] = append(msgs, m)
	return nil
}

func (r *MemoryRepository) Since(_ context.Context, bookingID string, since int64) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.Message{}
	for _, m := range r.messages[bookingID] {
		if m.Sequence > since {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountAfter(_ context.Context, bookingID string, since int64, excludeSender string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, m := range r.messages[bookingID] {
		if m.Sequence > since && m.SenderID != excludeSender {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) AdvanceCursor(_ context.Context, bookingID, identityID string, seq int64, at time.Time) (models.ReadCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := cursorKey{bookingID, identityID}
	c, ok := r.cursors[k]
	if !ok {
		c = models.ReadCursor{BookingID: bookingID, IdentityID: identityID}
	}
	if seq > c.Sequence {
		c.Sequence = seq
		c.UpdatedAt = at
	}
	r.cursors[k] = c
	return c, nil
}

func (r *MemoryRepository) Cursor(_ context.Context, bookingID, identityID string) (models.ReadCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[cursorKey{bookingID, identityID}]
	if !ok {
		return models.ReadCursor{BookingID: bookingID, IdentityID: identityID}, nil
	}
	return c, nil
}
