package ring

import (
	"context"
	"fmt"
	"sync"

	"github.com/sasha-s/go-deadlock"
)

type MemoryRingCfg struct {
	Size int

	// Optional; receives a signal-delivered event when a peer takes the
	// termination signal, before it enters the barrier.
	Tracer Tracer
}

// MemoryRing connects peers running in the same process. Each link is a
// FIFO channel.
type MemoryRing struct {
	Cfg MemoryRingCfg

	links   []chan Message
	signals []chan *SignalMsg
	barrier *barrier

	endpoints []*MemoryEndpoint

	closeChan chan struct{}
	closeOnce sync.Once
}

func NewMemoryRing(cfg MemoryRingCfg) (*MemoryRing, error) {
	if cfg.Size < 1 {
		return nil, fmt.Errorf("invalid ring size %d", cfg.Size)
	}

	r := &MemoryRing{
		Cfg: cfg,

		links:   make([]chan Message, cfg.Size),
		signals: make([]chan *SignalMsg, cfg.Size),
		barrier: newBarrier(cfg.Size),

		endpoints: make([]*MemoryEndpoint, cfg.Size),

		closeChan: make(chan struct{}),
	}

	for rank := 0; rank < cfg.Size; rank++ {
		r.links[rank] = make(chan Message, 1)
		r.signals[rank] = make(chan *SignalMsg, 1)
		r.endpoints[rank] = &MemoryEndpoint{ring: r, rank: rank}
	}

	return r, nil
}

func (r *MemoryRing) Size() int {
	return r.Cfg.Size
}

func (r *MemoryRing) Endpoint(rank int) *MemoryEndpoint {
	if rank < 0 || rank >= r.Cfg.Size {
		Panicf("rank %d out of ring of size %d", rank, r.Cfg.Size)
	}

	return r.endpoints[rank]
}

// Close aborts every pending and future operation on the ring.
func (r *MemoryRing) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
	})
}

type MemoryEndpoint struct {
	ring *MemoryRing
	rank int
}

func (e *MemoryEndpoint) Rank() int {
	return e.rank
}

func (e *MemoryEndpoint) Size() int {
	return e.ring.Cfg.Size
}

func (e *MemoryEndpoint) Send(ctx context.Context, msg Message) error {
	next := Successor(e.rank, e.ring.Cfg.Size)

	select {
	case e.ring.links[next] <- msg:
		return nil
	case <-e.ring.closeChan:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *MemoryEndpoint) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-e.ring.links[e.rank]:
		return msg, nil
	case <-e.ring.closeChan:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *MemoryEndpoint) BroadcastSignal(ctx context.Context, sig *SignalMsg) error {
	if e.rank != 0 {
		return fmt.Errorf("%w: rank %d cannot broadcast signals", ErrProtocol, e.rank)
	}

	for rank := 1; rank < e.ring.Cfg.Size; rank++ {
		select {
		case e.ring.signals[rank] <- sig:
		case <-e.ring.closeChan:
			return ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.traceDelivery(sig)

	return e.ring.barrier.wait(ctx, e.ring.closeChan)
}

func (e *MemoryEndpoint) ReceiveSignal(ctx context.Context) (*SignalMsg, error) {
	if e.rank == 0 {
		return nil, fmt.Errorf("%w: rank 0 cannot receive signals", ErrProtocol)
	}

	var sig *SignalMsg

	select {
	case sig = <-e.ring.signals[e.rank]:
	case <-e.ring.closeChan:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.traceDelivery(sig)

	if err := e.ring.barrier.wait(ctx, e.ring.closeChan); err != nil {
		return nil, err
	}

	return sig, nil
}

func (e *MemoryEndpoint) traceDelivery(sig *SignalMsg) {
	trace(e.ring.Cfg.Tracer, Event{
		Type:    EventSignalDelivered,
		Rank:    e.rank,
		Round:   sig.Round,
		Message: sig,
	})
}

// barrier is a reusable group barrier: each generation completes when size
// participants have called wait.
type barrier struct {
	mu deadlock.Mutex

	size        int
	nbArrived   int
	releaseChan chan struct{}
}

func newBarrier(size int) *barrier {
	return &barrier{
		size:        size,
		releaseChan: make(chan struct{}),
	}
}

func (b *barrier) wait(ctx context.Context, closeChan <-chan struct{}) error {
	b.mu.Lock()

	releaseChan := b.releaseChan

	b.nbArrived++
	if b.nbArrived == b.size {
		b.nbArrived = 0
		b.releaseChan = make(chan struct{})
		close(releaseChan)
	}

	b.mu.Unlock()

	select {
	case <-releaseChan:
		return nil
	case <-closeChan:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
