package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"runnerhub/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	messages *mongo.Collection
	cursors  *mongo.Collection
}

func NewMongoRepository(messages, cursors *mongo.Collection) *MongoRepository {
	return &MongoRepository{messages: messages, cursors: cursors}
}

func (r *MongoRepository) LastSequence(ctx context.Context, bookingID string) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetProjection(bson.M{"seq": 1})

	var last struct {
		Seq int64 `bson:"seq"`
	}
	err := r.messages.FindOne(ctx, bson.M{"bookingId": bookingID}, opts).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return last.Seq, nil
}

func (r *MongoRepository) Insert(ctx context.Context, m models.Message) error {
	if _, err := r.messages.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("booking %s sequence %d: %w", m.BookingID, m.Sequence, ErrDuplicateSequence)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MongoRepository) Since(ctx context.Context, bookingID string, since int64) ([]models.Message, error) {
	filter := bson.M{"bookingId": bookingID, "seq": bson.M{"$gt": since}}
	cur, err := r.messages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func (r *MongoRepository) CountAfter(ctx context.Context, bookingID string, since int64, excludeSender string) (int64, error) {
	n, err := r.messages.CountDocuments(ctx, bson.M{
		"bookingId": bookingID,
		"seq":       bson.M{"$gt": since},
		"senderId":  bson.M{"$ne": excludeSender},
	})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (r *MongoRepository) AdvanceCursor(ctx context.Context, bookingID, identityID string, seq int64, at time.Time) (models.ReadCursor, error) {
	filter := bson.M{"bookingId": bookingID, "identityId": identityID}
	update := bson.M{
		"$max": bson.M{"seq": seq},
		"$set": bson.M{"updatedAt": at},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c models.ReadCursor
	if err := r.cursors.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c); err != nil {
		return models.ReadCursor{}, fmt.Errorf("advance read cursor: %w", err)
	}
	return c, nil
}

func (r *MongoRepository) Cursor(ctx context.Context, bookingID, identityID string) (models.ReadCursor, error) {
	var c models.ReadCursor
	err := r.cursors.FindOne(ctx, bson.M{"bookingId": bookingID, "identityId": identityID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ReadCursor{BookingID: bookingID, IdentityID: identityID}, nil
	}
	if err != nil {
		return models.ReadCursor{}, fmt.Errorf("find read cursor: %w", err)
	}
	return c, nil
}
