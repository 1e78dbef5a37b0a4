package ring

import "fmt"

type EventType string

const (
	EventVoteDrawn       EventType = "vote-drawn"
	EventMessageSent     EventType = "message-sent"
	EventMessageReceived EventType = "message-received"
	EventSignalDelivered EventType = "signal-delivered"
	EventRoundFailed     EventType = "round-failed"
	EventElected         EventType = "elected"
)

type Event struct {
	Type  EventType
	Rank  int
	Round int

	Vote    Vote    // vote-drawn
	Message Message // message-sent, message-received, signal-delivered
}

func (e Event) String() string {
	switch e.Type {
	case EventVoteDrawn:
		return fmt.Sprintf("[%d] round %d: %s %d", e.Rank, e.Round, e.Type, e.Vote)
	case EventMessageSent, EventMessageReceived, EventSignalDelivered:
		return fmt.Sprintf("[%d] round %d: %s %v", e.Rank, e.Round, e.Type, e.Message)
	default:
		return fmt.Sprintf("[%d] round %d: %s", e.Rank, e.Round, e.Type)
	}
}

// Tracer receives the events of every peer of a ring. Implementations must
// support concurrent calls.
type Tracer interface {
	Trace(Event)
}

type TracerFunc func(Event)

func (fn TracerFunc) Trace(e Event) {
	fn(e)
}

// Reporter is notified by the coordinator at the end of each round.
type Reporter interface {
	RoundFailed(RoundOutcome)
	Elected(RoundOutcome)
}

func trace(t Tracer, e Event) {
	if t != nil {
		t.Trace(e)
	}
}
