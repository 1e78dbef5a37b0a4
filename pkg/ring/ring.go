package ring

import (
	"errors"
	"fmt"
)

var (
	ErrGroupSizeMismatch = errors.New("group size mismatch")
	ErrInvalidVote       = errors.New("invalid vote")
	ErrProtocol          = errors.New("protocol error")
	ErrTransportClosed   = errors.New("transport closed")
	ErrMaxRounds         = errors.New("maximum number of rounds reached")
)

type Vote int

// Sentinel replaces the relayed value as soon as two adjacent votes differ.
// Legitimate votes are never negative.
const Sentinel Vote = -1

func (v Vote) IsSentinel() bool {
	return v == Sentinel
}

type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleRelay       Role = "relay"
	RoleTerminal    Role = "terminal"
	RoleSolo        Role = "solo"
)

func RoleOf(rank, groupSize int) Role {
	switch {
	case groupSize == 1:
		return RoleSolo
	case rank == 0:
		return RoleCoordinator
	case rank == groupSize-1:
		return RoleTerminal
	default:
		return RoleRelay
	}
}

func Successor(rank, groupSize int) int {
	return (rank + 1) % groupSize
}

func Predecessor(rank, groupSize int) int {
	return (rank - 1 + groupSize) % groupSize
}

type ElectionState string

const (
	ElectionStateVoting     ElectionState = "voting"
	ElectionStateTerminated ElectionState = "terminated"
)

type RoundOutcome struct {
	Round   int  `json:"round"`
	Elected bool `json:"elected"`
	Value   Vote `json:"value"`
	Leader  int  `json:"leader"`
}

func NewRoundOutcome(round int, value Vote, elected bool, groupSize int) RoundOutcome {
	if !elected {
		return RoundOutcome{
			Round:  round,
			Value:  Sentinel,
			Leader: -1,
		}
	}

	return RoundOutcome{
		Round:   round,
		Elected: true,
		Value:   value,
		Leader:  int(value) % groupSize,
	}
}

func (o RoundOutcome) String() string {
	if !o.Elected {
		return fmt.Sprintf("RoundOutcome{round: %d, elected: false}", o.Round)
	}

	return fmt.Sprintf("RoundOutcome{round: %d, elected: true, value: %d, "+
		"leader: %d}", o.Round, o.Value, o.Leader)
}

// Result is what a peer knows once its election loop has terminated. Only
// the coordinator knows the winning outcome.
type Result struct {
	Rank    int
	Rounds  int
	Outcome *RoundOutcome
}

// EvaluateRound computes sequentially the outcome of the chained relay for
// the votes of a round, votes[r] being the vote of rank r.
func EvaluateRound(round int, votes []Vote) RoundOutcome {
	n := len(votes)
	if n == 0 {
		return NewRoundOutcome(round, Sentinel, false, 1)
	}

	carried := votes[0]
	for r := 1; r < n; r++ {
		if carried != votes[r] {
			carried = Sentinel
		}
	}

	elected := !votes[0].IsSentinel() && carried == votes[0]

	return NewRoundOutcome(round, votes[0], elected, n)
}
