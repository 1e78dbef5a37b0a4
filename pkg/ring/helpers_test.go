package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type eventRecorder struct {
	events []Event
	mu     sync.Mutex
}

func (r *eventRecorder) Trace(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)

	return events
}

func (r *eventRecorder) Filter(eventType EventType) []Event {
	var events []Event

	for _, e := range r.Events() {
		if e.Type == eventType {
			events = append(events, e)
		}
	}

	return events
}

type outcomeRecorder struct {
	failed  []RoundOutcome
	elected []RoundOutcome
	mu      sync.Mutex
}

func (r *outcomeRecorder) RoundFailed(outcome RoundOutcome) {
	r.mu.Lock()
	r.failed = append(r.failed, outcome)
	r.mu.Unlock()
}

func (r *outcomeRecorder) Elected(outcome RoundOutcome) {
	r.mu.Lock()
	r.elected = append(r.elected, outcome)
	r.mu.Unlock()
}

func sameVotes(n int, vote Vote) []Vote {
	votes := make([]Vote, n)
	for i := range votes {
		votes[i] = vote
	}

	return votes
}

// checkLockStep verifies on recorded events that every peer takes the signal
// of a round before any peer draws its vote for the next round. The recorder
// serializes events: its order is a valid logical clock.
func checkLockStep(t *testing.T, events []Event, nbPeers, nbRounds int) {
	t.Helper()

	lastDelivery := make(map[int]int)
	firstVote := make(map[int]int)
	nbDeliveries := make(map[int]int)

	for i, e := range events {
		switch e.Type {
		case EventSignalDelivered:
			lastDelivery[e.Round] = i
			nbDeliveries[e.Round]++

		case EventVoteDrawn:
			if _, found := firstVote[e.Round]; !found {
				firstVote[e.Round] = i
			}
		}
	}

	for round := 1; round <= nbRounds; round++ {
		assert.Equal(t, nbPeers, nbDeliveries[round], "round %d", round)
	}

	for round := 1; round < nbRounds; round++ {
		assert.Less(t, lastDelivery[round], firstVote[round+1],
			"round %d", round)
	}
}
