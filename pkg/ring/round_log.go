package ring

import "github.com/sasha-s/go-deadlock"

// RoundLog keeps the outcome of every round evaluated by the coordinator. It
// can be read while the election is running.
type RoundLog struct {
	outcomes []RoundOutcome

	mu deadlock.RWMutex
}

func NewRoundLog() *RoundLog {
	return &RoundLog{
		outcomes: make([]RoundOutcome, 0),
	}
}

func (l *RoundLog) Append(outcome RoundOutcome) {
	l.mu.Lock()
	l.outcomes = append(l.outcomes, outcome)
	l.mu.Unlock()
}

func (l *RoundLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.outcomes)
}

func (l *RoundLog) LastRound() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	nbOutcomes := len(l.outcomes)

	if nbOutcomes == 0 {
		return 0
	}

	return l.outcomes[nbOutcomes-1].Round
}

func (l *RoundLog) Outcomes() []RoundOutcome {
	l.mu.RLock()
	defer l.mu.RUnlock()

	outcomes := make([]RoundOutcome, len(l.outcomes))
	copy(outcomes, l.outcomes)

	return outcomes
}
