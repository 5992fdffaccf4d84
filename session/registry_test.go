package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"runnerhub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	requester = models.Identity{ID: "req-1", Role: models.RoleRequester}
	provider  = models.Identity{ID: "prov-1", Role: models.RoleProvider}
	outsider  = models.Identity{ID: "someone", Role: models.RoleRequester}
	admin     = models.Identity{ID: "adm-1", Role: models.RoleAdmin}
)

type staticAuth map[string]models.Identity

func (a staticAuth) Authenticate(credential string) (models.Identity, error) {
	id, ok := a[strings.TrimPrefix(credential, "Bearer ")]
	if !ok {
		return models.Identity{}, models.ErrInvalidCredential
	}
	return id, nil
}

type fakeBookings map[string]models.Booking

func (f fakeBookings) Lookup(_ context.Context, id string) (models.Booking, error) {
	b, ok := f[id]
	if !ok {
		return models.Booking{}, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	return b, nil
}

func newTestRegistry() *Registry {
	return NewRegistry(
		staticAuth{"tok-req": requester},
		fakeBookings{"b1": {ID: "b1", RequesterID: requester.ID, ProviderID: provider.ID, Status: models.StatusPending}},
	)
}

func TestRegistry_Authenticate(t *testing.T) {
	r := newTestRegistry()

	id, err := r.Authenticate("Bearer tok-req")
	require.NoError(t, err)
	assert.Equal(t, requester, id)

	_, err = r.Authenticate("bogus")
	require.ErrorIs(t, err, models.ErrInvalidCredential)
}

func TestRegistry_Subscribe(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	tests := []struct {
		name     string
		identity models.Identity
		booking  string
		want     error
	}{
		{"requester", requester, "b1", nil},
		{"provider", provider, "b1", nil},
		{"admin", admin, "b1", nil},
		{"outsider", outsider, "b1", models.ErrForbidden},
		{"missing booking", requester, "nope", models.ErrNotFound},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := r.Register(tt.identity, fmt.Sprintf("conn-%d", i))
			err := r.Subscribe(ctx, s, tt.booking)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				assert.False(t, s.Subscribed(tt.booking))
				return
			}
			require.NoError(t, err)
			assert.True(t, s.Subscribed(tt.booking))
		})
	}

	assert.Len(t, r.SubscribersOf("b1"), 3)
	assert.Empty(t, r.SubscribersOf("nope"))
}

func TestRegistry_LeaveAndDisconnectAreIdempotent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	s := r.Register(requester, "c1")
	r.Unsubscribe(s, "b1")

	require.NoError(t, r.Subscribe(ctx, s, "b1"))
	r.Unsubscribe(s, "b1")
	r.Unsubscribe(s, "b1")
	assert.Empty(t, r.SubscribersOf("b1"))

	require.NoError(t, r.Subscribe(ctx, s, "b1"))
	r.Disconnect(s)
	r.Disconnect(s)
	assert.Empty(t, r.SubscribersOf("b1"))
	assert.Empty(t, s.Rooms())
	assert.Zero(t, r.Count())

	err := r.Subscribe(ctx, s, "b1")
	require.ErrorIs(t, err, models.ErrTransport, "a disconnected session cannot rejoin")
}

func TestRegistry_ReRegisterReplacesSession(t *testing.T) {
	r := newTestRegistry()
	old := r.Register(requester, "c1")
	require.NoError(t, r.Subscribe(context.Background(), old, "b1"))

	fresh := r.Register(requester, "c1")
	assert.Empty(t, r.SubscribersOf("b1"))

	r.Disconnect(old)
	got, ok := r.Get("c1")
	require.True(t, ok, "disconnecting the stale session keeps the new one")
	assert.Same(t, fresh, got)
}

func TestRegistry_ConcurrentSubscribe(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := r.Register(provider, fmt.Sprintf("c%d", i))
			assert.NoError(t, r.Subscribe(ctx, s, "b1"))
			_ = r.SubscribersOf("b1")
			if i%2 == 0 {
				r.Disconnect(s)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.SubscribersOf("b1"), 25)
	assert.Equal(t, 25, r.Count())
}
