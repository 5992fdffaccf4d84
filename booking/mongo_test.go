package booking

import (
	"context"
	"os"
	"testing"
	"time"

	"runnerhub/db"
	"runnerhub/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mongoRepo(t *testing.T) *MongoRepository {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := db.Connect(ctx, uri)
	require.NoError(t, err)
	database := client.Database("runnerhub_test_" + uuid.NewString()[:8])
	require.NoError(t, db.EnsureIndexes(ctx, database))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = database.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return NewMongoRepository(database.Collection(db.BookingsCollection))
}

func TestMongoRepository_CompareAndSwap(t *testing.T) {
	repo := mongoRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	b := models.Booking{
		ID: uuid.NewString(), RequesterID: "r", ProviderID: "p", Title: "t",
		Status: models.StatusPending, Version: 1, ScheduledAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Insert(ctx, b))
	require.ErrorIs(t, repo.Insert(ctx, b), models.ErrConflict)

	got, err := repo.UpdateStatus(ctx, StatusChange{
		BookingID: b.ID, ExpectedStatus: models.StatusPending, ExpectedVersion: 1,
		NewStatus: models.StatusAccepted, At: now,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.Equal(t, int64(2), got.Version)

	_, err = repo.UpdateStatus(ctx, StatusChange{
		BookingID: b.ID, ExpectedStatus: models.StatusPending, ExpectedVersion: 1,
		NewStatus: models.StatusCancelled, At: now,
	})
	require.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.UpdateStatus(ctx, StatusChange{BookingID: "missing", ExpectedStatus: models.StatusPending, ExpectedVersion: 1})
	require.ErrorIs(t, err, models.ErrNotFound)

	list, err := repo.List(ctx, ListFilter{ProviderID: "p", Status: models.StatusAccepted})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestMongoRepository_UpdateDetails(t *testing.T) {
	repo := mongoRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	b := models.Booking{
		ID: uuid.NewString(), RequesterID: "r", ProviderID: "p", Title: "t", Notes: "old",
		Status: models.StatusPending, Version: 1, ScheduledAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Insert(ctx, b))

	d := detailsOf(b)
	d.Title = "new title"
	d.Notes = ""
	got, err := repo.UpdateDetails(ctx, DetailsChange{BookingID: b.ID, ExpectedVersion: 1, Details: d, At: now})
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.Empty(t, got.Notes)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = repo.UpdateDetails(ctx, DetailsChange{BookingID: b.ID, ExpectedVersion: 1, Details: d, At: now})
	require.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.UpdateStatus(ctx, StatusChange{
		BookingID: b.ID, ExpectedStatus: models.StatusPending, ExpectedVersion: 2,
		NewStatus: models.StatusAccepted, At: now,
	})
	require.NoError(t, err)
	_, err = repo.UpdateDetails(ctx, DetailsChange{BookingID: b.ID, ExpectedVersion: 3, Details: d, At: now})
	require.ErrorIs(t, err, models.ErrConflict, "only pending bookings are editable")

	_, err = repo.UpdateDetails(ctx, DetailsChange{BookingID: "missing", ExpectedVersion: 1})
	require.ErrorIs(t, err, models.ErrNotFound)
}
