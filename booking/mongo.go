package booking

import (
	"context"
	"errors"
	"fmt"

	"runnerhub/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(coll *mongo.Collection) *MongoRepository {
	return &MongoRepository{coll: coll}
}

func (r *MongoRepository) Insert(ctx context.Context, b models.Booking) error {
	if _, err := r.coll.InsertOne(ctx, b); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("booking %s already exists: %w", b.ID, models.ErrConflict)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (models.Booking, error) {
	var b models.Booking
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Booking{}, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Booking{}, fmt.Errorf("find booking: %w", err)
	}
	return b, nil
}

func (r *MongoRepository) List(ctx context.Context, f ListFilter) ([]models.Booking, error) {
	filter := bson.M{}
	if f.RequesterID != "" {
		filter["requesterId"] = f.RequesterID
	}
	if f.ProviderID != "" {
		filter["providerId"] = f.ProviderID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer cur.Close(ctx)

	bookings := []models.Booking{}
	if err := cur.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	return bookings, nil
}

func (r *MongoRepository) UpdateStatus(ctx context.Context, c StatusChange) (models.Booking, error) {
	set := bson.M{
		"status":    c.NewStatus,
		"updatedAt": c.At,
	}
	if c.NewStatus == models.StatusCompleted {
		set["completedAt"] = c.At
	}

	filter := bson.M{
		"id":      c.BookingID,
		"status":  c.ExpectedStatus,
		"version": c.ExpectedVersion,
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}

	return r.compareAndUpdate(ctx, c.BookingID, filter, update)
}

func (r *MongoRepository) UpdateDetails(ctx context.Context, c DetailsChange) (models.Booking, error) {
	filter := bson.M{
		"id":      c.BookingID,
		"status":  models.StatusPending,
		"version": c.ExpectedVersion,
	}
	d := c.Details
	update := bson.M{
		"$set": bson.M{
			"title":       d.Title,
			"description": d.Description,
			"location":    d.Location,
			"notes":       d.Notes,
			"scheduledAt": d.ScheduledAt,
			"totalAmount": d.TotalAmount,
			"updatedAt":   c.At,
		},
		"$inc": bson.M{"version": 1},
	}
	return r.compareAndUpdate(ctx, c.BookingID, filter, update)
}

func (r *MongoRepository) compareAndUpdate(ctx context.Context, id string, filter, update bson.M) (models.Booking, error) {
	var b models.Booking
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&b)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Booking{}, fmt.Errorf("update booking %s: %w", id, err)
	}

	// Nothing matched: either the booking is gone or someone else moved it.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return models.Booking{}, getErr
	}
	return models.Booking{}, fmt.Errorf("booking %s was modified concurrently: %w", id, models.ErrConflict)
}
