package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	BookingsCollection    = "bookings"
	MessagesCollection    = "messages"
	ReadCursorsCollection = "read_cursors"
)

// Connect opens a client and checks the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the uniqueness constraints the stores rely on:
// one booking per id, one message per (booking, sequence) and one read
// cursor per (booking, identity).
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		BookingsCollection: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		MessagesCollection: {
			{Keys: bson.D{{Key: "bookingId", Value: 1}, {Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		ReadCursorsCollection: {
			{Keys: bson.D{{Key: "bookingId", Value: 1}, {Key: "identityId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, idx := range indexes {
		if _, err := database.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// EnsureBookingValidator constrains bookings.status to the known statuses
// and requires a numeric version.
func EnsureBookingValidator(ctx context.Context, database *mongo.Database, statuses []string) error {
	validator := bson.M{
		"status":  bson.M{"$in": statuses},
		"version": bson.M{"$type": "long"},
	}

	err := database.CreateCollection(ctx, BookingsCollection, options.CreateCollection().SetValidator(validator))
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != namespaceExists {
		return fmt.Errorf("create bookings collection: %w", err)
	}

	res := database.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: BookingsCollection},
		{Key: "validator", Value: validator},
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("update bookings validator: %w", err)
	}
	return nil
}

const namespaceExists = 48
