package ring

import (
	"fmt"
	"math/rand"
	"time"
)

// VoteSource provides the vote of a peer for each round, rounds starting at
// 1.
type VoteSource interface {
	Draw(round int) (Vote, error)
}

// VoteSourceFactory builds the vote source of each rank.
type VoteSourceFactory func(rank int) VoteSource

type RandomVoteSource struct {
	voteRange     int
	randGenerator *rand.Rand
}

func NewRandomVoteSource(seed int64, voteRange int) *RandomVoteSource {
	return &RandomVoteSource{
		voteRange:     voteRange,
		randGenerator: rand.New(rand.NewSource(seed)),
	}
}

func (s *RandomVoteSource) Draw(round int) (Vote, error) {
	if s.voteRange < 1 {
		return Sentinel, fmt.Errorf("invalid vote range %d", s.voteRange)
	}

	return Vote(s.randGenerator.Intn(s.voteRange)), nil
}

// RandomVotes seeds the stream of each rank with the current time plus the
// rank so that peers do not draw correlated votes.
func RandomVotes(voteRange int) VoteSourceFactory {
	now := time.Now().UnixNano()

	return SeededVotes(now, voteRange)
}

func SeededVotes(seed int64, voteRange int) VoteSourceFactory {
	return func(rank int) VoteSource {
		return NewRandomVoteSource(seed+int64(rank), voteRange)
	}
}

type ScriptedVoteSource struct {
	votes []Vote
}

func NewScriptedVoteSource(votes ...Vote) *ScriptedVoteSource {
	return &ScriptedVoteSource{votes: votes}
}

func (s *ScriptedVoteSource) Draw(round int) (Vote, error) {
	if round < 1 || round > len(s.votes) {
		return Sentinel, fmt.Errorf("no scripted vote for round %d", round)
	}

	return s.votes[round-1], nil
}

// ScriptedVotes builds vote sources from a table of votes, rounds[k][r]
// being the vote of rank r during round k+1.
func ScriptedVotes(rounds [][]Vote) VoteSourceFactory {
	return func(rank int) VoteSource {
		votes := make([]Vote, len(rounds))
		for i, round := range rounds {
			if rank < len(round) {
				votes[i] = round[rank]
			} else {
				votes[i] = Sentinel
			}
		}

		return NewScriptedVoteSource(votes...)
	}
}

type ConstantVoteSource Vote

func (s ConstantVoteSource) Draw(round int) (Vote, error) {
	return Vote(s), nil
}

func ConstantVotes(vote Vote) VoteSourceFactory {
	return func(rank int) VoteSource {
		return ConstantVoteSource(vote)
	}
}
