package chathub

import (
	"runnerhub/models"
)

// client → server
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventMarkRead    = "mark_read"
)

// server → client
const (
	EventConnected          = "connected"
	EventChatHistory        = "chat_history"
	EventJoinedChat         = "joined_chat"
	EventLeftChat           = "left_chat"
	EventNewMessage         = "new_message"
	EventMessageAck         = "message_ack"
	EventMessagesMarkedRead = "messages_marked_read"
	EventMessagesRead       = "messages_read"
	EventError              = "error"
)

// inboundPayload is every frame a client may send. Fields that do not apply
// to the event are ignored.
type inboundPayload struct {
	Event     string `json:"event"`
	BookingID string `json:"booking_id"`
	Body      string `json:"body,omitempty"`
	Ref       string `json:"ref,omitempty"`
	Since     int64  `json:"since,omitempty"`
	Sequence  int64  `json:"sequence,omitempty"`
}

type connectedEvent struct {
	Event    string          `json:"event"`
	Identity models.Identity `json:"identity"`
}

type roomEvent struct {
	Event     string `json:"event"`
	BookingID string `json:"booking_id"`
}

type historyEvent struct {
	Event     string               `json:"event"`
	BookingID string               `json:"booking_id"`
	Messages  []models.MessageView `json:"messages"`
}

type messageEvent struct {
	Event     string             `json:"event"`
	BookingID string             `json:"booking_id"`
	Ref       string             `json:"ref,omitempty"`
	Message   models.MessageView `json:"message"`
}

type readEvent struct {
	Event     string `json:"event"`
	BookingID string `json:"booking_id"`
	ReaderID  string `json:"reader_id,omitempty"`
	Sequence  int64  `json:"sequence"`
}

type errorEvent struct {
	Event     string `json:"event"`
	BookingID string `json:"booking_id,omitempty"`
	Ref       string `json:"ref,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

func newErrorEvent(bookingID, ref string, err error) errorEvent {
	kind := models.KindOf(err)
	msg := err.Error()
	if kind == "Internal" {
		msg = "internal error"
	}
	return errorEvent{Event: EventError, BookingID: bookingID, Ref: ref, Kind: kind, Message: msg}
}
