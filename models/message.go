package models

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// Message is one immutable entry in a booking's conversation. Sequence is
// assigned by the message store, starts at 1 and has no gaps per booking.
type Message struct {
	ID        string      `json:"id" bson:"id"`
	BookingID string      `json:"booking_id" bson:"bookingId"`
	SenderID  string      `json:"sender_id" bson:"senderId"`
	Body      string      `json:"body" bson:"body"`
	Kind      MessageKind `json:"kind" bson:"kind"`
	Sequence  int64       `json:"sequence" bson:"seq"`
	CreatedAt time.Time   `json:"created_at" bson:"createdAt"`
}

// MessageView is a message as seen by one viewer.
type MessageView struct {
	Message
	Own bool `json:"own"`
}

// ViewFor marks ownership by comparing identities, never display names.
func (m Message) ViewFor(viewerID string) MessageView {
	return MessageView{Message: m, Own: viewerID != "" && m.SenderID == viewerID}
}

func ViewsFor(msgs []Message, viewerID string) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ViewFor(viewerID))
	}
	return out
}

// ReadCursor is the highest sequence a participant has read in a booking.
type ReadCursor struct {
	BookingID  string    `json:"booking_id" bson:"bookingId"`
	IdentityID string    `json:"identity_id" bson:"identityId"`
	Sequence   int64     `json:"sequence" bson:"seq"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updatedAt"`
}
