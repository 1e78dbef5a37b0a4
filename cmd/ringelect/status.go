package main

import (
	"github.com/galdor/go-ringvote/pkg/ring"
	"github.com/sasha-s/go-deadlock"
)

type StatusData struct {
	RunId   string             `json:"runId"`
	Rank    int                `json:"rank"`
	Role    ring.Role          `json:"role"`
	State   ring.ElectionState `json:"state"`
	Round   int                `json:"round"`
	Outcome *ring.RoundOutcome `json:"outcome,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Status follows the progress of the local peer for the API server. It is
// both the tracer of the peer and, on the coordinator, its reporter.
type Status struct {
	data     StatusData
	roundLog *ring.RoundLog
	reporter ring.Reporter

	mu deadlock.RWMutex
}

func NewStatus(runId string, rank int, roundLog *ring.RoundLog, reporter ring.Reporter) *Status {
	s := Status{
		data: StatusData{
			RunId: runId,
			Rank:  rank,
			State: ring.ElectionStateVoting,
		},

		roundLog: roundLog,
		reporter: reporter,
	}

	return &s
}

func (s *Status) Data() StatusData {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()

	return data
}

func (s *Status) Rounds() []ring.RoundOutcome {
	return s.roundLog.Outcomes()
}

func (s *Status) SetRole(role ring.Role) {
	s.mu.Lock()
	s.data.Role = role
	s.mu.Unlock()
}

func (s *Status) Trace(e ring.Event) {
	if e.Type != ring.EventVoteDrawn {
		return
	}

	s.mu.Lock()
	s.data.Round = e.Round
	s.mu.Unlock()
}

func (s *Status) RoundFailed(outcome ring.RoundOutcome) {
	s.reporter.RoundFailed(outcome)
}

func (s *Status) Elected(outcome ring.RoundOutcome) {
	s.mu.Lock()
	s.data.Outcome = &outcome
	s.mu.Unlock()

	s.reporter.Elected(outcome)
}

func (s *Status) Terminate(result *ring.Result) {
	s.mu.Lock()
	s.data.State = ring.ElectionStateTerminated
	s.data.Round = result.Rounds
	if result.Outcome != nil {
		s.data.Outcome = result.Outcome
	}
	s.mu.Unlock()
}

func (s *Status) Abort(err error) {
	s.mu.Lock()
	s.data.State = ring.ElectionStateTerminated
	s.data.Error = err.Error()
	s.mu.Unlock()
}
