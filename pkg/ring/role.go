package ring

import (
	"context"
	"fmt"
)

// roleStep is the part of a round specific to the position of the peer in
// the ring. Only the coordinator and the solo peer return an outcome.
type roleStep interface {
	run(context.Context, *Peer, Vote) (*RoundOutcome, error)
}

func newRoleStep(role Role) roleStep {
	switch role {
	case RoleCoordinator:
		return coordinatorStep{}
	case RoleRelay:
		return relayStep{}
	case RoleTerminal:
		return terminalStep{}
	case RoleSolo:
		return soloStep{}
	default:
		Panicf("unknown role %q", role)
		return nil
	}
}

type coordinatorStep struct{}

func (coordinatorStep) run(ctx context.Context, p *Peer, vote Vote) (*RoundOutcome, error) {
	if err := p.send(ctx, &RelayMsg{Round: p.round, Value: vote}); err != nil {
		return nil, err
	}

	msg, err := p.receive(ctx)
	if err != nil {
		return nil, err
	}

	res, ok := msg.(*ResultMsg)
	if !ok {
		return nil, fmt.Errorf("%w: received %v instead of a result",
			ErrProtocol, msg)
	}

	outcome := NewRoundOutcome(p.round, vote, res.Value == vote,
		p.Cfg.GroupSize)

	return &outcome, nil
}

type relayStep struct{}

func (relayStep) run(ctx context.Context, p *Peer, vote Vote) (*RoundOutcome, error) {
	value, err := receiveRelay(ctx, p)
	if err != nil {
		return nil, err
	}

	msg := RelayMsg{Round: p.round, Value: chainValue(value, vote)}
	if err := p.send(ctx, &msg); err != nil {
		return nil, err
	}

	return nil, nil
}

type terminalStep struct{}

func (terminalStep) run(ctx context.Context, p *Peer, vote Vote) (*RoundOutcome, error) {
	value, err := receiveRelay(ctx, p)
	if err != nil {
		return nil, err
	}

	msg := ResultMsg{Round: p.round, Value: chainValue(value, vote)}
	if err := p.send(ctx, &msg); err != nil {
		return nil, err
	}

	return nil, nil
}

// A single peer is both the start and the end of the chain: it elects itself
// without exchanging any relay message.
type soloStep struct{}

func (soloStep) run(ctx context.Context, p *Peer, vote Vote) (*RoundOutcome, error) {
	outcome := NewRoundOutcome(p.round, vote, true, p.Cfg.GroupSize)
	return &outcome, nil
}

func receiveRelay(ctx context.Context, p *Peer) (Vote, error) {
	msg, err := p.receive(ctx)
	if err != nil {
		return Sentinel, err
	}

	relay, ok := msg.(*RelayMsg)
	if !ok {
		return Sentinel, fmt.Errorf("%w: received %v instead of a relay",
			ErrProtocol, msg)
	}

	return relay.Value, nil
}

// chainValue is the value a peer forwards: its own vote if it matches the
// received value, the sentinel otherwise. Since votes are never equal to the
// sentinel, a sentinel is always forwarded as is.
func chainValue(received, vote Vote) Vote {
	if received == vote {
		return vote
	}

	return Sentinel
}
