package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"runnerhub/locks"
	"runnerhub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingListener struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (l *recordingListener) BookingTransitioned(_ context.Context, evt models.LifecycleEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *recordingListener) snapshot() []models.LifecycleEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.LifecycleEvent(nil), l.events...)
}

func newTestService(t *testing.T, repo Repository) (*Service, *recordingListener) {
	t.Helper()
	svc := NewService(repo, locks.NewKeyed(), zap.NewNop())
	l := &recordingListener{}
	svc.SetListener(l)
	return svc, l
}

func createPending(t *testing.T, svc *Service) models.Booking {
	t.Helper()
	b, err := svc.Create(context.Background(), requester, CreateRequest{
		ProviderID:  provider.ID,
		Title:       "Grocery run",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		TotalAmount: 42.5,
	})
	require.NoError(t, err)
	return b
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryRepository())
	ctx := context.Background()
	when := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		actor   models.Identity
		req     CreateRequest
		wantErr error
	}{
		{"valid", requester, CreateRequest{ProviderID: provider.ID, Title: "Dog walk", ScheduledAt: when, TotalAmount: 10}, nil},
		{"missing provider", requester, CreateRequest{Title: "x", ScheduledAt: when}, models.ErrValidation},
		{"self booking", requester, CreateRequest{ProviderID: requester.ID, Title: "x", ScheduledAt: when}, models.ErrValidation},
		{"missing title", requester, CreateRequest{ProviderID: provider.ID, ScheduledAt: when}, models.ErrValidation},
		{"missing schedule", requester, CreateRequest{ProviderID: provider.ID, Title: "x"}, models.ErrValidation},
		{"negative total", requester, CreateRequest{ProviderID: provider.ID, Title: "x", ScheduledAt: when, TotalAmount: -1}, models.ErrValidation},
		{"anonymous", models.Identity{}, CreateRequest{ProviderID: provider.ID, Title: "x", ScheduledAt: when}, models.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := svc.Create(ctx, tt.actor, tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, b.ID)
			assert.Equal(t, models.StatusPending, b.Status)
			assert.Equal(t, requester.ID, b.RequesterID)
			assert.Equal(t, int64(1), b.Version)
			assert.False(t, b.CreatedAt.IsZero())
		})
	}
}

func TestService_GetAndList(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryRepository())
	ctx := context.Background()
	b := createPending(t, svc)

	_, err := svc.Get(ctx, provider, b.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, moderator, b.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, outsider, b.ID)
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = svc.Get(ctx, requester, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	mine, err := svc.List(ctx, requester, ListRequest{})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	asProvider, err := svc.List(ctx, provider, ListRequest{AsProvider: true})
	require.NoError(t, err)
	require.Len(t, asProvider, 1)

	asRequester, err := svc.List(ctx, provider, ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, asRequester)

	_, err = svc.List(ctx, requester, ListRequest{All: true})
	require.ErrorIs(t, err, models.ErrForbidden)

	all, err := svc.List(ctx, admin, ListRequest{All: true, Status: models.StatusPending})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.List(ctx, admin, ListRequest{All: true, Status: "bogus"})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestService_FullLifecycle(t *testing.T) {
	svc, listener := newTestService(t, NewMemoryRepository())
	ctx := context.Background()
	b := createPending(t, svc)

	b, err := svc.RequestTransition(ctx, b.ID, provider, models.ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, b.Status)
	assert.Equal(t, int64(2), b.Version)

	b, err = svc.RequestTransition(ctx, b.ID, provider, models.ActionStart)
	require.NoError(t, err)
	assert.Nil(t, b.CompletedAt)

	b, err = svc.RequestTransition(ctx, b.ID, provider, models.ActionComplete)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)

	events := listener.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, models.StatusPending, events[0].OldStatus)
	assert.Equal(t, models.StatusAccepted, events[0].NewStatus)
	assert.Equal(t, models.StatusInProgress, events[1].NewStatus)
	assert.Equal(t, models.StatusCompleted, events[2].NewStatus)
	assert.Equal(t, provider.ID, events[2].Actor.ID)
}

func TestService_ScenarioDeclineThenAccept(t *testing.T) {
	svc, listener := newTestService(t, NewMemoryRepository())
	ctx := context.Background()
	b := createPending(t, svc)

	b, err := svc.RequestTransition(ctx, b.ID, provider, models.ActionDecline)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, b.Status)

	_, err = svc.RequestTransition(ctx, b.ID, provider, models.ActionAccept)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Len(t, listener.snapshot(), 1)
}

func TestService_ScenarioNoCancelAfterStart(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryRepository())
	ctx := context.Background()
	b := createPending(t, svc)

	_, err := svc.RequestTransition(ctx, b.ID, provider, models.ActionAccept)
	require.NoError(t, err)
	_, err = svc.RequestTransition(ctx, b.ID, provider, models.ActionStart)
	require.NoError(t, err)

	_, err = svc.RequestTransition(ctx, b.ID, requester, models.ActionCancel)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := svc.Get(ctx, requester, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestService_ForbiddenAndUnknown(t *testing.T) {
	svc, listener := newTestService(t, NewMemoryRepository())
	ctx := context.Background()
	b := createPending(t, svc)

	_, err := svc.RequestTransition(ctx, b.ID, outsider, models.ActionCancel)
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = svc.RequestTransition(ctx, b.ID, requester, models.ActionAccept)
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = svc.RequestTransition(ctx, "nope", provider, models.ActionAccept)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.RequestTransition(ctx, b.ID, provider, "teleport")
	require.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = svc.RequestTransition(ctx, "nope", provider, "teleport")
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.RequestTransition(ctx, b.ID, outsider, "teleport")
	require.ErrorIs(t, err, models.ErrForbidden)
	assert.Empty(t, listener.snapshot())
}

func TestService_ScenarioStartCancelRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		svc, listener := newTestService(t, NewMemoryRepository())
		ctx := context.Background()
		b := createPending(t, svc)
		_, err := svc.RequestTransition(ctx, b.ID, provider, models.ActionAccept)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = svc.RequestTransition(ctx, b.ID, provider, models.ActionStart)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = svc.RequestTransition(ctx, b.ID, requester, models.ActionCancel)
		}()
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrInvalidTransition), err)
		}
		require.Equal(t, 1, succeeded)

		final, err := svc.Get(ctx, requester, b.ID)
		require.NoError(t, err)
		if errs[0] == nil {
			assert.Equal(t, models.StatusInProgress, final.Status)
		} else {
			assert.Equal(t, models.StatusCancelled, final.Status)
		}
		assert.Equal(t, int64(3), final.Version)
		assert.Len(t, listener.snapshot(), 2)
	}
}

// staleRepository simulates another process moving the booking between the
// read and the compare-and-swap.
type staleRepository struct {
	*MemoryRepository
	once sync.Once
}

func (r *staleRepository) UpdateStatus(ctx context.Context, c StatusChange) (models.Booking, error) {
	r.once.Do(func() {
		_, _ = r.MemoryRepository.UpdateStatus(ctx, StatusChange{
			BookingID:       c.BookingID,
			ExpectedStatus:  c.ExpectedStatus,
			ExpectedVersion: c.ExpectedVersion,
			NewStatus:       models.StatusCancelled,
			At:              c.At,
		})
	})
	return r.MemoryRepository.UpdateStatus(ctx, c)
}

func TestService_ConflictIsSurfaced(t *testing.T) {
	repo := &staleRepository{MemoryRepository: NewMemoryRepository()}
	svc, listener := newTestService(t, repo)
	ctx := context.Background()
	b := createPending(t, svc)

	_, err := svc.RequestTransition(ctx, b.ID, provider, models.ActionAccept)
	require.ErrorIs(t, err, models.ErrConflict)
	assert.Empty(t, listener.snapshot(), "no event without a persisted change")

	// A retry after re-fetching sees the new state.
	_, err = svc.RequestTransition(ctx, b.ID, provider, models.ActionAccept)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func ptr[T any](v T) *T { return &v }

func TestService_Update(t *testing.T) {
	svc, listener := newTestService(t, NewMemoryRepository())
	ctx := context.Background()
	b := createPending(t, svc)
	later := time.Date(2031, 3, 4, 10, 0, 0, 0, time.UTC)

	got, err := svc.Update(ctx, b.ID, requester, UpdateRequest{
		Title:       ptr("  Grocery run and pharmacy "),
		Notes:       ptr("ring twice"),
		ScheduledAt: &later,
	})
	require.NoError(t, err)
	assert.Equal(t, "Grocery run and pharmacy", got.Title)
	assert.Equal(t, "ring twice", got.Notes)
	assert.Equal(t, later, got.ScheduledAt)
	assert.Equal(t, 42.5, got.TotalAmount, "untouched fields keep their value")
	assert.Equal(t, b.Version+1, got.Version)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, b.RequesterID, got.RequesterID)
	assert.Equal(t, b.ProviderID, got.ProviderID)
	assert.Empty(t, listener.snapshot(), "edits are not lifecycle events")

	tests := []struct {
		name    string
		id      string
		actor   models.Identity
		req     UpdateRequest
		wantErr error
	}{
		{"missing booking", "nope", requester, UpdateRequest{Notes: ptr("x")}, models.ErrNotFound},
		{"provider", b.ID, provider, UpdateRequest{Notes: ptr("x")}, models.ErrForbidden},
		{"outsider", b.ID, outsider, UpdateRequest{Notes: ptr("x")}, models.ErrForbidden},
		{"staff", b.ID, moderator, UpdateRequest{Notes: ptr("x")}, models.ErrForbidden},
		{"blank title", b.ID, requester, UpdateRequest{Title: ptr("   ")}, models.ErrValidation},
		{"zero schedule", b.ID, requester, UpdateRequest{ScheduledAt: &time.Time{}}, models.ErrValidation},
		{"negative total", b.ID, requester, UpdateRequest{TotalAmount: ptr(-1.0)}, models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(ctx, tt.id, tt.actor, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = svc.RequestTransition(ctx, b.ID, provider, models.ActionAccept)
	require.NoError(t, err)
	_, err = svc.Update(ctx, b.ID, requester, UpdateRequest{Notes: ptr("too late")})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	final, err := svc.Get(ctx, requester, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "ring twice", final.Notes)
}

// staleEditRepository accepts the booking behind the service's back before
// the details write lands.
type staleEditRepository struct {
	*MemoryRepository
}

func (r *staleEditRepository) UpdateDetails(ctx context.Context, c DetailsChange) (models.Booking, error) {
	_, _ = r.MemoryRepository.UpdateStatus(ctx, StatusChange{
		BookingID:       c.BookingID,
		ExpectedStatus:  models.StatusPending,
		ExpectedVersion: c.ExpectedVersion,
		NewStatus:       models.StatusAccepted,
		At:              c.At,
	})
	return r.MemoryRepository.UpdateDetails(ctx, c)
}

func TestService_UpdateConflict(t *testing.T) {
	repo := &staleEditRepository{MemoryRepository: NewMemoryRepository()}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	b := createPending(t, svc)

	_, err := svc.Update(ctx, b.ID, requester, UpdateRequest{Notes: ptr("gate code 1234")})
	require.ErrorIs(t, err, models.ErrConflict)

	got, err := svc.Get(ctx, requester, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.Empty(t, got.Notes)
}
