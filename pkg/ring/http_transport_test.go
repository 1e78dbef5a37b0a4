package ring

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestHTTPTransports(t *testing.T, size int, tracer Tracer) []*HTTPTransport {
	listeners := make([]net.Listener, size)
	peers := make([]PeerAddress, size)

	for rank := 0; rank < size; rank++ {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		listeners[rank] = listener

		address := listener.Addr().String()
		peers[rank] = PeerAddress{
			LocalAddress:  address,
			PublicAddress: address,
		}
	}

	transports := make([]*HTTPTransport, size)

	for rank := 0; rank < size; rank++ {
		transport, err := NewHTTPTransport(HTTPTransportCfg{
			Rank:     rank,
			Peers:    peers,
			Logger:   DiscardLogger{},
			Tracer:   tracer,
			Listener: listeners[rank],
		})
		require.NoError(t, err)

		require.NoError(t, transport.Start(nil))

		transports[rank] = transport
	}

	return transports
}

func stopTestHTTPTransports(transports []*HTTPTransport) {
	for _, transport := range transports {
		transport.Stop()
	}
}

func TestHTTPTransportElection(t *testing.T) {
	defer leaktest.Check(t)()

	transports := newTestHTTPTransports(t, 3, nil)
	defer stopTestHTTPTransports(transports)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, transport := range transports {
		require.NoError(t, transport.WaitForPeers(ctx, 10*time.Millisecond))
	}

	votes := ScriptedVotes([][]Vote{
		{0, 1, 2},
		{1, 1, 0},
		{2, 2, 2},
	})

	roundLog := NewRoundLog()
	recorder := outcomeRecorder{}

	results, err := runHTTPElection(ctx, transports, func(rank int) PeerCfg {
		cfg := PeerCfg{Votes: votes(rank)}

		if rank == 0 {
			cfg.Reporter = &recorder
			cfg.RoundLog = roundLog
		}

		return cfg
	})
	require.NoError(t, err)

	for rank, result := range results {
		require.NotNil(t, result)
		assert.Equal(t, rank, result.Rank)
		assert.Equal(t, 3, result.Rounds)
	}

	require.NotNil(t, results[0].Outcome)
	assert.Equal(t, 2, results[0].Outcome.Leader)

	assert.Len(t, recorder.failed, 2)
	assert.Len(t, recorder.elected, 1)
	assert.Equal(t, 3, roundLog.Len())
}

// runHTTPElection runs one peer per transport, each built from the
// configuration returned by peerCfg completed with the transport.
func runHTTPElection(ctx context.Context, transports []*HTTPTransport, peerCfg func(int) PeerCfg) ([]*Result, error) {
	peers := make([]*Peer, len(transports))

	for rank, transport := range transports {
		cfg := peerCfg(rank)
		cfg.GroupSize = len(transports)
		cfg.Transport = transport
		cfg.Logger = DiscardLogger{}

		peer, err := NewPeer(cfg)
		if err != nil {
			return nil, err
		}

		peers[rank] = peer
	}

	results := make([]*Result, len(peers))

	g, gctx := errgroup.WithContext(ctx)

	for _, peer := range peers {
		peer := peer

		g.Go(func() error {
			result, err := peer.Run(gctx)
			results[peer.Rank] = result
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func TestHTTPTransportBarrier(t *testing.T) {
	defer leaktest.Check(t)()

	transports := newTestHTTPTransports(t, 3, nil)
	defer stopTestHTTPTransports(transports)

	ctx := context.Background()

	sig := SignalMsg{Round: 1, Stop: true}

	broadcastChan := make(chan error, 1)
	go func() {
		broadcastChan <- transports[0].BroadcastSignal(ctx, &sig)
	}()

	type reception struct {
		sig *SignalMsg
		err error
	}

	receptionChan := make(chan reception, 1)
	go func() {
		sig, err := transports[1].ReceiveSignal(ctx)
		receptionChan <- reception{sig, err}
	}()

	// Rank 2 has not taken the signal yet: nobody can leave the barrier
	select {
	case err := <-broadcastChan:
		t.Fatalf("broadcast returned before the barrier: %v", err)
	case <-receptionChan:
		t.Fatalf("signal received before the barrier")
	case <-time.After(100 * time.Millisecond):
	}

	sig2, err := transports[2].ReceiveSignal(ctx)
	require.NoError(t, err)
	assert.Equal(t, &sig, sig2)

	r := <-receptionChan
	require.NoError(t, r.err)
	assert.Equal(t, &sig, r.sig)

	require.NoError(t, <-broadcastChan)
}

func TestHTTPTransportBroadcastWithoutReceivers(t *testing.T) {
	defer leaktest.Check(t)()

	transports := newTestHTTPTransports(t, 3, nil)
	defer stopTestHTTPTransports(transports)

	ctx, cancel := context.WithTimeout(context.Background(),
		100*time.Millisecond)
	defer cancel()

	// No peer ever issues its receive: the broadcast cannot complete
	err := transports[0].BroadcastSignal(ctx, &SignalMsg{Round: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
}

func TestHTTPTransportLockStep(t *testing.T) {
	defer leaktest.Check(t)()

	n := 3
	nbRounds := 5

	recorder := eventRecorder{}

	transports := newTestHTTPTransports(t, n, &recorder)
	defer stopTestHTTPTransports(transports)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, transport := range transports {
		require.NoError(t, transport.WaitForPeers(ctx, 10*time.Millisecond))
	}

	rounds := make([][]Vote, nbRounds)
	for i := 0; i < nbRounds-1; i++ {
		rounds[i] = []Vote{0, 1, Vote(i % 3)}
	}
	rounds[nbRounds-1] = sameVotes(n, 2)

	votes := ScriptedVotes(rounds)

	results, err := runHTTPElection(ctx, transports, func(rank int) PeerCfg {
		return PeerCfg{
			Votes:  votes(rank),
			Tracer: &recorder,
		}
	})
	require.NoError(t, err)

	for _, result := range results {
		assert.Equal(t, nbRounds, result.Rounds)
	}

	checkLockStep(t, recorder.Events(), n, nbRounds)
}

func TestHTTPTransportRejectsUnexpectedSender(t *testing.T) {
	defer leaktest.Check(t)()

	transports := newTestHTTPTransports(t, 3, nil)
	defer stopTestHTTPTransports(transports)

	address := transports[1].Cfg.Peers[1].PublicAddress

	post := func(sourceRank string, msg Message) int {
		data, err := EncodeMsg(msg)
		require.NoError(t, err)

		req, err := http.NewRequest("POST", "http://"+address,
			bytes.NewReader(data))
		require.NoError(t, err)

		if sourceRank != "" {
			req.Header.Set("X-Ring-Source-Rank", sourceRank)
		}

		client := http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

		res, err := client.Do(req)
		require.NoError(t, err)
		res.Body.Close()

		return res.StatusCode
	}

	// Rank 1 only receives relay messages from rank 0
	assert.Equal(t, 400, post("2", &RelayMsg{Round: 1, Value: 0}))
	assert.Equal(t, 400, post("", &RelayMsg{Round: 1, Value: 0}))
	assert.Equal(t, 400, post("7", &RelayMsg{Round: 1, Value: 0}))
	assert.Equal(t, 400, post("0", &ResultMsg{Round: 1, Value: 0}))
	assert.Equal(t, 400, post("2", &SignalMsg{Round: 1}))

	assert.Equal(t, 204, post("0", &RelayMsg{Round: 1, Value: 2}))

	msg, err := transports[1].Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &RelayMsg{Round: 1, Value: 2}, msg)
}

func TestHTTPTransportWaitForPeers(t *testing.T) {
	defer leaktest.Check(t)()

	transports := newTestHTTPTransports(t, 2, nil)
	defer stopTestHTTPTransports(transports[:1])

	// Rank 1 never answers once stopped
	transports[1].Stop()

	ctx, cancel := context.WithTimeout(context.Background(),
		100*time.Millisecond)
	defer cancel()

	err := transports[0].WaitForPeers(ctx, 10*time.Millisecond)
	assert.Error(t, err)
}

func TestHTTPTransportConfiguration(t *testing.T) {
	peers := []PeerAddress{
		{LocalAddress: "127.0.0.1:7001", PublicAddress: "127.0.0.1:7001"},
		{LocalAddress: "127.0.0.1:7002", PublicAddress: "127.0.0.1:7002"},
	}

	_, err := NewHTTPTransport(HTTPTransportCfg{
		Rank:   0,
		Logger: DiscardLogger{},
	})
	assert.Error(t, err)

	_, err = NewHTTPTransport(HTTPTransportCfg{
		Rank:   2,
		Peers:  peers,
		Logger: DiscardLogger{},
	})
	assert.Error(t, err)

	_, err = NewHTTPTransport(HTTPTransportCfg{
		Rank:  1,
		Peers: peers,
	})
	assert.Error(t, err)

	transport, err := NewHTTPTransport(HTTPTransportCfg{
		Rank:   1,
		Peers:  peers,
		Logger: DiscardLogger{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, transport.Rank())
	assert.Equal(t, 2, transport.Size())
}
