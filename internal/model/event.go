package model

// EventKind distinguishes notifications coming from a native backend.
type EventKind string

const (
	EventPacket EventKind = "packet"
	EventStatus EventKind = "status"
	EventError  EventKind = "error"
)

// Event is one asynchronous notification from a native backend.
type Event struct {
	Kind    EventKind
	Packet  *PacketRecord
	Message string
}

// PacketEvent wraps a record into an Event.
func PacketEvent(r PacketRecord) Event {
	return Event{Kind: EventPacket, Packet: &r}
}

// StatusEvent wraps a status line into an Event.
func StatusEvent(msg string) Event {
	return Event{Kind: EventStatus, Message: msg}
}

// ErrorEvent wraps an error message into an Event.
func ErrorEvent(msg string) Event {
	return Event{Kind: EventError, Message: msg}
}
