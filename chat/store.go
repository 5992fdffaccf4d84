package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"runnerhub/booking"
	"runnerhub/locks"
	"runnerhub/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxBodyLength = 4000
	// sequence collisions only happen when another process appends to the
	// same booking; a handful of re-reads is plenty.
	maxAppendAttempts = 5
)

// Bookings resolves a booking without authorization. *booking.Service
// satisfies it.
type Bookings interface {
	Lookup(ctx context.Context, id string) (models.Booking, error)
}

type Store struct {
	repo     Repository
	bookings Bookings
	locks    *locks.Keyed
	log      *zap.Logger
	now      func() time.Time
}

func NewStore(repo Repository, bookings Bookings, keyed *locks.Keyed, log *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		bookings: bookings,
		locks:    keyed,
		log:      log.Named("chat"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Authorize returns the booking when id may read or write its conversation.
func (s *Store) Authorize(ctx context.Context, bookingID string, id models.Identity) (models.Booking, error) {
	b, err := s.bookings.Lookup(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if !booking.CanAccess(b, id) {
		return models.Booking{}, fmt.Errorf("%s may not use the conversation of booking %s: %w", id.ID, bookingID, models.ErrForbidden)
	}
	return b, nil
}

// Append stores a message under the booking's lock. onCommit, when not nil,
// runs after the message is durable and before the lock is released, so
// anything it publishes is ordered with every other append on the booking.
func (s *Store) Append(ctx context.Context, bookingID string, sender models.Identity, body string, kind models.MessageKind, onCommit func(models.Message)) (models.Message, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()
	return s.AppendHeld(ctx, bookingID, sender, body, kind, onCommit)
}

// AppendHeld is Append for callers that already hold the booking's lock.
func (s *Store) AppendHeld(ctx context.Context, bookingID string, sender models.Identity, body string, kind models.MessageKind, onCommit func(models.Message)) (models.Message, error) {
	if kind != models.KindSystem {
		kind = models.KindText
		if _, err := s.Authorize(ctx, bookingID, sender); err != nil {
			return models.Message{}, err
		}
	} else if _, err := s.bookings.Lookup(ctx, bookingID); err != nil {
		return models.Message{}, err
	}

	body = strings.TrimSpace(body)
	switch {
	case body == "":
		return models.Message{}, fmt.Errorf("message body is empty: %w", models.ErrValidation)
	case utf8.RuneCountInString(body) > MaxBodyLength:
		return models.Message{}, fmt.Errorf("message body exceeds %d characters: %w", MaxBodyLength, models.ErrValidation)
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		SenderID:  sender.ID,
		Body:      body,
		Kind:      kind,
	}

	for attempt := 1; ; attempt++ {
		last, err := s.repo.LastSequence(ctx, bookingID)
		if err != nil {
			return models.Message{}, err
		}
		msg.Sequence = last + 1
		msg.CreatedAt = s.now()

		err = s.repo.Insert(ctx, msg)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateSequence) || attempt == maxAppendAttempts {
			return models.Message{}, err
		}
		s.log.Debug("sequence taken, retrying",
			zap.String("booking", bookingID),
			zap.Int64("seq", msg.Sequence),
			zap.Int("attempt", attempt))
	}

	if onCommit != nil {
		onCommit(msg)
	}
	return msg, nil
}

// History returns the messages after since, oldest first.
func (s *Store) History(ctx context.Context, bookingID string, since int64) ([]models.Message, error) {
	if since < 0 {
		since = 0
	}
	return s.repo.Since(ctx, bookingID, since)
}

// LastSequence is the highest sequence stored for bookingID, 0 when the
// conversation is empty.
func (s *Store) LastSequence(ctx context.Context, bookingID string) (int64, error) {
	return s.repo.LastSequence(ctx, bookingID)
}

// MarkRead advances reader's cursor. Sequences beyond the last stored
// message are clamped to it.
func (s *Store) MarkRead(ctx context.Context, bookingID string, reader models.Identity, seq int64) (models.ReadCursor, error) {
	if _, err := s.Authorize(ctx, bookingID, reader); err != nil {
		return models.ReadCursor{}, err
	}
	if seq < 0 {
		return models.ReadCursor{}, fmt.Errorf("sequence must not be negative: %w", models.ErrValidation)
	}
	last, err := s.repo.LastSequence(ctx, bookingID)
	if err != nil {
		return models.ReadCursor{}, err
	}
	if seq > last {
		seq = last
	}
	return s.repo.AdvanceCursor(ctx, bookingID, reader.ID, seq, s.now())
}

// Unread counts messages from other senders past reader's cursor.
func (s *Store) Unread(ctx context.Context, bookingID string, reader models.Identity) (int64, models.ReadCursor, error) {
	if _, err := s.Authorize(ctx, bookingID, reader); err != nil {
		return 0, models.ReadCursor{}, err
	}
	c, err := s.repo.Cursor(ctx, bookingID, reader.ID)
	if err != nil {
		return 0, models.ReadCursor{}, err
	}
	n, err := s.repo.CountAfter(ctx, bookingID, c.Sequence, reader.ID)
	if err != nil {
		return 0, models.ReadCursor{}, err
	}
	return n, c, nil
}
