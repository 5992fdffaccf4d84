package models

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusDeclined   Status = "declined"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending, StatusAccepted, StatusDeclined, StatusInProgress, StatusCompleted, StatusCancelled,
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionCancel   Action = "cancel"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
)

// Booking is a service engagement between a requester and a provider.
// RequesterID and ProviderID never change after creation; Status and
// Version only change through booking.Service.RequestTransition.
type Booking struct {
	ID          string     `json:"id" bson:"id"`
	RequesterID string     `json:"requester_id" bson:"requesterId"`
	ProviderID  string     `json:"provider_id" bson:"providerId"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description,omitempty" bson:"description,omitempty"`
	Location    string     `json:"location,omitempty" bson:"location,omitempty"`
	Notes       string     `json:"notes,omitempty" bson:"notes,omitempty"`
	Status      Status     `json:"status" bson:"status"`
	Version     int64      `json:"version" bson:"version"`
	ScheduledAt time.Time  `json:"scheduled_at" bson:"scheduledAt"`
	TotalAmount float64    `json:"total_amount" bson:"totalAmount"`
	CreatedAt   time.Time  `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updatedAt"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completedAt,omitempty"`
}

// LifecycleEvent is emitted once a status change has been persisted.
type LifecycleEvent struct {
	BookingID string    `json:"booking_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	Action    Action    `json:"action"`
	Actor     Identity  `json:"actor"`
	At        time.Time `json:"at"`
}
