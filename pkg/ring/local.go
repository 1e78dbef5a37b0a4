package ring

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type LocalCfg struct {
	// The number of peers actually started.
	Peers int

	// The topology size every peer expects; defaults to Peers.
	GroupSize int

	VoteRange int
	MaxRounds int

	// Defaults to random votes seeded with the current time and the rank.
	Votes VoteSourceFactory

	Logger   Logger
	Tracer   Tracer
	Reporter Reporter
	RoundLog *RoundLog
}

// RunLocal runs a whole ring in the current process over a memory ring and
// returns the result of every peer, indexed by rank. The first error of any
// peer cancels the context of the other ones and is returned.
func RunLocal(ctx context.Context, cfg LocalCfg) ([]*Result, error) {
	if cfg.GroupSize == 0 {
		cfg.GroupSize = cfg.Peers
	}

	if cfg.VoteRange == 0 {
		cfg.VoteRange = cfg.GroupSize
	}

	if cfg.Votes == nil {
		cfg.Votes = RandomVotes(cfg.VoteRange)
	}

	if cfg.Logger == nil {
		cfg.Logger = DiscardLogger{}
	}

	memRing, err := NewMemoryRing(MemoryRingCfg{
		Size:   cfg.Peers,
		Tracer: cfg.Tracer,
	})
	if err != nil {
		return nil, err
	}
	defer memRing.Close()

	peers := make([]*Peer, cfg.Peers)

	for rank := 0; rank < cfg.Peers; rank++ {
		peerCfg := PeerCfg{
			GroupSize: cfg.GroupSize,
			VoteRange: cfg.VoteRange,
			MaxRounds: cfg.MaxRounds,

			Transport: memRing.Endpoint(rank),
			Votes:     cfg.Votes(rank),

			Logger: cfg.Logger,
			Tracer: cfg.Tracer,
		}

		if rank == 0 {
			peerCfg.Reporter = cfg.Reporter
			peerCfg.RoundLog = cfg.RoundLog
		}

		peer, err := NewPeer(peerCfg)
		if err != nil {
			// Every peer fails the same way on a configuration error; the
			// coordinator is the one reporting it.
			return nil, fmt.Errorf("cannot create peer %d: %w", rank, err)
		}

		peers[rank] = peer
	}

	results := make([]*Result, cfg.Peers)

	g, gctx := errgroup.WithContext(ctx)

	for _, peer := range peers {
		peer := peer

		g.Go(func() (err error) {
			defer func() {
				if value := recover(); value != nil {
					err = RecoverError(value)
				}
			}()

			result, err := peer.Run(gctx)
			if err != nil {
				return fmt.Errorf("peer %d: %w", peer.Rank, err)
			}

			results[peer.Rank] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
