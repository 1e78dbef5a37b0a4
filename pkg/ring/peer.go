package ring

import (
	"context"
	"fmt"
)

type PeerCfg struct {
	// The size of the topology the peer expects; it must match the size of
	// the transport.
	GroupSize int

	// Votes are drawn in [0, VoteRange); the default range is the group
	// size.
	VoteRange int

	// 0 means no limit.
	MaxRounds int

	Transport Transport
	Votes     VoteSource

	Logger Logger

	// Optional
	Tracer   Tracer
	Reporter Reporter
	RoundLog *RoundLog
}

type Peer struct {
	Cfg PeerCfg
	Log Logger

	Rank int
	Role Role

	state ElectionState
	round int

	transport Transport
	step      roleStep
}

func NewPeer(cfg PeerCfg) (*Peer, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("missing transport")
	}

	if cfg.Votes == nil {
		return nil, fmt.Errorf("missing vote source")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	rank := cfg.Transport.Rank()
	size := cfg.Transport.Size()

	if cfg.GroupSize != size {
		return nil, fmt.Errorf("%w: %d peers in the ring, expected %d",
			ErrGroupSizeMismatch, size, cfg.GroupSize)
	}

	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("invalid rank %d in ring of size %d", rank, size)
	}

	if cfg.VoteRange == 0 {
		cfg.VoteRange = cfg.GroupSize
	}

	if cfg.VoteRange < 0 {
		return nil, fmt.Errorf("invalid vote range %d", cfg.VoteRange)
	}

	if cfg.MaxRounds < 0 {
		return nil, fmt.Errorf("invalid maximum number of rounds %d",
			cfg.MaxRounds)
	}

	role := RoleOf(rank, size)

	p := &Peer{
		Cfg: cfg,
		Log: cfg.Logger,

		Rank: rank,
		Role: role,

		state: ElectionStateVoting,

		transport: cfg.Transport,
		step:      newRoleStep(role),
	}

	return p, nil
}

// Run executes rounds until the coordinator broadcasts a stop signal. Every
// peer of the ring must run concurrently; an error aborts the whole ring.
func (p *Peer) Run(ctx context.Context) (*Result, error) {
	if p.state != ElectionStateVoting {
		return nil, fmt.Errorf("election already terminated")
	}

	p.Log.Debug(1, "starting election as %s (rank %d/%d)",
		p.Role, p.Rank, p.Cfg.GroupSize)

	var outcome *RoundOutcome

	for p.state == ElectionStateVoting {
		p.round++

		roundOutcome, err := p.runRound(ctx)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", p.round, err)
		}

		sig, err := p.exchangeSignal(ctx, roundOutcome)
		if err != nil {
			return nil, fmt.Errorf("round %d: cannot exchange termination "+
				"signal: %w", p.round, err)
		}

		if sig.Stop {
			p.state = ElectionStateTerminated

			if sig.Abort {
				p.Log.Debug(1, "election aborted after %d rounds", p.round)
				return nil, fmt.Errorf("%w (%d)", ErrMaxRounds, p.round)
			}

			if roundOutcome != nil && roundOutcome.Elected {
				outcome = roundOutcome
			}
		}
	}

	p.Log.Debug(1, "election terminated after %d rounds", p.round)

	result := Result{
		Rank:    p.Rank,
		Rounds:  p.round,
		Outcome: outcome,
	}

	return &result, nil
}

func (p *Peer) runRound(ctx context.Context) (*RoundOutcome, error) {
	vote, err := p.Cfg.Votes.Draw(p.round)
	if err != nil {
		return nil, fmt.Errorf("cannot draw vote: %w", err)
	}

	if vote < 0 || int(vote) >= p.Cfg.VoteRange {
		return nil, fmt.Errorf("%w: %d is not in [0, %d)",
			ErrInvalidVote, vote, p.Cfg.VoteRange)
	}

	p.Log.Debug(2, "round %d: drew vote %d", p.round, vote)

	trace(p.Cfg.Tracer, Event{
		Type:  EventVoteDrawn,
		Rank:  p.Rank,
		Round: p.round,
		Vote:  vote,
	})

	return p.step.run(ctx, p, vote)
}

func (p *Peer) exchangeSignal(ctx context.Context, outcome *RoundOutcome) (*SignalMsg, error) {
	if p.Rank != 0 {
		sig, err := p.transport.ReceiveSignal(ctx)
		if err != nil {
			return nil, err
		}

		if sig.Round != p.round {
			return nil, fmt.Errorf("%w: received signal for round %d",
				ErrProtocol, sig.Round)
		}

		return sig, nil
	}

	if outcome == nil {
		Panicf("missing round outcome on rank 0")
	}

	p.recordOutcome(*outcome)

	limitReached := p.Cfg.MaxRounds > 0 && p.round >= p.Cfg.MaxRounds

	sig := SignalMsg{
		Round: p.round,
		Stop:  outcome.Elected || limitReached,
		Abort: !outcome.Elected && limitReached,
	}

	if err := p.transport.BroadcastSignal(ctx, &sig); err != nil {
		return nil, err
	}

	return &sig, nil
}

func (p *Peer) recordOutcome(outcome RoundOutcome) {
	if p.Cfg.RoundLog != nil {
		p.Cfg.RoundLog.Append(outcome)
	}

	if outcome.Elected {
		p.Log.Info("round %d: elected peer %d with value %d",
			outcome.Round, outcome.Leader, outcome.Value)

		trace(p.Cfg.Tracer, Event{
			Type:  EventElected,
			Rank:  p.Rank,
			Round: outcome.Round,
			Vote:  outcome.Value,
		})

		if p.Cfg.Reporter != nil {
			p.Cfg.Reporter.Elected(outcome)
		}
	} else {
		p.Log.Debug(1, "round %d: no agreement", outcome.Round)

		trace(p.Cfg.Tracer, Event{
			Type:  EventRoundFailed,
			Rank:  p.Rank,
			Round: outcome.Round,
		})

		if p.Cfg.Reporter != nil {
			p.Cfg.Reporter.RoundFailed(outcome)
		}
	}
}

func (p *Peer) send(ctx context.Context, msg Message) error {
	p.Log.Debug(2, "sending %v to %d", msg,
		Successor(p.Rank, p.Cfg.GroupSize))

	if err := p.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("cannot send %v: %w", msg, err)
	}

	trace(p.Cfg.Tracer, Event{
		Type:    EventMessageSent,
		Rank:    p.Rank,
		Round:   p.round,
		Message: msg,
	})

	return nil
}

func (p *Peer) receive(ctx context.Context) (Message, error) {
	msg, err := p.transport.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot receive message: %w", err)
	}

	p.Log.Debug(2, "received %v from %d", msg,
		Predecessor(p.Rank, p.Cfg.GroupSize))

	if msg.GetRound() != p.round {
		return nil, fmt.Errorf("%w: received %v during round %d",
			ErrProtocol, msg, p.round)
	}

	trace(p.Cfg.Tracer, Event{
		Type:    EventMessageReceived,
		Rank:    p.Rank,
		Round:   p.round,
		Message: msg,
	})

	return msg, nil
}
