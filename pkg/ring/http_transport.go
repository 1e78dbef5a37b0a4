package ring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

type PeerAddress struct {
	LocalAddress  string `json:"localAddress"`
	PublicAddress string `json:"publicAddress"`
}

type HTTPTransportCfg struct {
	Rank  int
	Peers []PeerAddress

	Logger Logger

	// Optional; receives a signal-delivered event when a peer takes the
	// termination signal.
	Tracer Tracer

	// Optional; used instead of listening on the local address of the peer.
	Listener net.Listener
}

// HTTPTransport connects peers running in different processes. Each peer
// runs an HTTP server receiving JSON messages; sending a message is a
// synchronous POST request, so a link never carries more than one message at
// a time.
//
// Signals are not queued: the handler only answers a signal request once
// ReceiveSignal has taken the signal and acknowledged it.
type HTTPTransport struct {
	Cfg HTTPTransportCfg
	Log Logger

	rank int
	size int

	localAddress string

	httpServer *http.Server
	httpClient *http.Client

	relayChan     chan Message
	signalChan    chan *SignalMsg
	signalAckChan chan struct{}
	releaseChan   chan *ReleaseMsg

	errorChan chan<- error
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewHTTPTransport(cfg HTTPTransportCfg) (*HTTPTransport, error) {
	size := len(cfg.Peers)
	if size == 0 {
		return nil, fmt.Errorf("empty peer list")
	}

	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, fmt.Errorf("invalid rank %d for %d peers", cfg.Rank, size)
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	for rank, peer := range cfg.Peers {
		if peer.PublicAddress == "" {
			return nil, fmt.Errorf("missing public address for peer %d", rank)
		}
	}

	localAddress := cfg.Peers[cfg.Rank].LocalAddress
	if cfg.Listener != nil {
		localAddress = cfg.Listener.Addr().String()
	}

	if localAddress == "" {
		return nil, fmt.Errorf("missing local address for peer %d", cfg.Rank)
	}

	t := &HTTPTransport{
		Cfg: cfg,
		Log: cfg.Logger,

		rank: cfg.Rank,
		size: size,

		localAddress: localAddress,

		httpClient: newHTTPClient(),

		relayChan:     make(chan Message, 1),
		signalChan:    make(chan *SignalMsg),
		signalAckChan: make(chan struct{}),
		releaseChan:   make(chan *ReleaseMsg, 1),

		stopChan: make(chan struct{}),
	}

	return t, nil
}

func (t *HTTPTransport) Rank() int {
	return t.rank
}

func (t *HTTPTransport) Size() int {
	return t.size
}

func (t *HTTPTransport) Start(errorChan chan<- error) error {
	t.errorChan = errorChan

	listener := t.Cfg.Listener
	if listener == nil {
		var err error

		listener, err = net.Listen("tcp", t.localAddress)
		if err != nil {
			return fmt.Errorf("cannot listen on %s: %w", t.localAddress, err)
		}
	}

	t.Log.Info("listening on %s", t.localAddress)

	t.httpServer = &http.Server{
		Addr:              t.localAddress,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           t,
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		defer func() {
			if value := recover(); value != nil {
				err := RecoverError(value)
				t.Log.Error("%v", err)
				t.reportError(err)
			}
		}()

		if err := t.httpServer.Serve(listener); err != http.ErrServerClosed {
			t.reportError(fmt.Errorf("server error: %w", err))
		}
	}()

	return nil
}

func (t *HTTPTransport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)

		if t.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			t.httpServer.Shutdown(ctx)
		}

		t.httpClient.CloseIdleConnections()
	})

	t.wg.Wait()
}

func (t *HTTPTransport) reportError(err error) {
	if t.errorChan == nil {
		return
	}

	select {
	case t.errorChan <- err:
	case <-t.stopChan:
	}
}

func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	return t.sendMsg(ctx, Successor(t.rank, t.size), msg)
}

func (t *HTTPTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-t.relayChan:
		return msg, nil
	case <-t.stopChan:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BroadcastSignal delivers the signal to every other peer, then releases
// them. Each signal request only succeeds once the recipient has taken the
// signal in ReceiveSignal, so no peer is released, and BroadcastSignal does
// not return, before all of them have received it.
func (t *HTTPTransport) BroadcastSignal(ctx context.Context, sig *SignalMsg) error {
	if t.rank != 0 {
		return fmt.Errorf("%w: rank %d cannot broadcast signals",
			ErrProtocol, t.rank)
	}

	for rank := 1; rank < t.size; rank++ {
		if err := t.sendMsg(ctx, rank, sig); err != nil {
			return err
		}
	}

	t.traceDelivery(sig)

	release := ReleaseMsg{Round: sig.Round}

	for rank := 1; rank < t.size; rank++ {
		if err := t.sendMsg(ctx, rank, &release); err != nil {
			return err
		}
	}

	return nil
}

func (t *HTTPTransport) ReceiveSignal(ctx context.Context) (*SignalMsg, error) {
	if t.rank == 0 {
		return nil, fmt.Errorf("%w: rank 0 cannot receive signals", ErrProtocol)
	}

	var sig *SignalMsg

	select {
	case sig = <-t.signalChan:
	case <-t.stopChan:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.traceDelivery(sig)

	// The handler of the signal request waits for this acknowledgement
	// before answering the coordinator.
	select {
	case t.signalAckChan <- struct{}{}:
	case <-t.stopChan:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case release := <-t.releaseChan:
		if release.Round != sig.Round {
			return nil, fmt.Errorf("%w: received release for round %d "+
				"after signal for round %d", ErrProtocol, release.Round,
				sig.Round)
		}
	case <-t.stopChan:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return sig, nil
}

func (t *HTTPTransport) traceDelivery(sig *SignalMsg) {
	trace(t.Cfg.Tracer, Event{
		Type:    EventSignalDelivered,
		Rank:    t.rank,
		Round:   sig.Round,
		Message: sig,
	})
}

// WaitForPeers blocks until the server of every other peer answers, so that
// the first messages of the election do not reach a peer which is still
// starting.
func (t *HTTPTransport) WaitForPeers(ctx context.Context, interval time.Duration) error {
	for rank := 0; rank < t.size; rank++ {
		if rank == t.rank {
			continue
		}

		for {
			err := t.ping(ctx, rank)
			if err == nil {
				break
			}

			t.Log.Debug(1, "peer %d not ready: %v", rank, err)

			select {
			case <-time.After(interval):
			case <-t.stopChan:
				return ErrTransportClosed
			case <-ctx.Done():
				return fmt.Errorf("peer %d not ready: %w", rank, ctx.Err())
			}
		}
	}

	return nil
}

func (t *HTTPTransport) ping(ctx context.Context, rank int) error {
	uri := url.URL{
		Scheme: "http",
		Host:   t.Cfg.Peers[rank].PublicAddress,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", uri.String(), nil)
	if err != nil {
		return fmt.Errorf("cannot create http request: %w", err)
	}

	res, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != 204 {
		return fmt.Errorf("request failed with status %d", res.StatusCode)
	}

	return nil
}

func newHTTPClient() *http.Client {
	transport := http.Transport{
		Proxy: http.ProxyFromEnvironment,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		}).DialContext,

		MaxIdleConns: 30,

		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// No global timeout: a peer may legitimately wait for a long time before
	// its inbox has room for the next message.
	client := http.Client{
		Transport: &transport,
	}

	return &client
}

func (t *HTTPTransport) sendMsg(ctx context.Context, recipient int, msg Message) error {
	t.Log.Debug(2, "sending %v to %d", msg, recipient)

	msgData, err := EncodeMsg(msg)
	if err != nil {
		return fmt.Errorf("cannot encode message: %w", err)
	}

	address := t.Cfg.Peers[recipient].PublicAddress

	uri := url.URL{
		Scheme: "http",
		Host:   address,
	}

	req, err := http.NewRequestWithContext(ctx, "POST", uri.String(),
		bytes.NewReader(msgData))
	if err != nil {
		return fmt.Errorf("cannot create http request: %w", err)
	}

	req.Header.Set("X-Ring-Source-Rank", strconv.Itoa(t.rank))

	res, err := t.httpClient.Do(req)
	if err != nil {
		select {
		case <-t.stopChan:
			return ErrTransportClosed
		default:
		}

		return fmt.Errorf("cannot send %v to %s: %w", msg, address, err)
	}
	defer res.Body.Close()

	if res.StatusCode != 204 {
		var errMsg string

		body, err := io.ReadAll(res.Body)
		if err == nil {
			errMsg = string(body)

			if idx := strings.IndexAny(errMsg, "\r\n"); idx > 0 {
				errMsg = errMsg[:idx]
			}

			if errMsg != "" {
				errMsg = ": " + errMsg
			}
		}

		return fmt.Errorf("http request to %s failed with status %d%s",
			address, res.StatusCode, errMsg)
	}

	return nil
}

func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// GET requests only tell other peers that the server is up
	if req.Method == "GET" {
		t.replyEmpty(w, 204)
		return
	}

	if req.Method != "POST" {
		t.replyError(w, 405, "unsupported method %s", req.Method)
		return
	}

	// Obtain the rank of the sender of the message
	sourceRankString := req.Header.Get("X-Ring-Source-Rank")
	if sourceRankString == "" {
		t.replyError(w, 400, "missing or empty X-Ring-Source-Rank header field")
		return
	}

	sourceRank, err := strconv.Atoi(sourceRankString)
	if err != nil || sourceRank < 0 || sourceRank >= t.size {
		t.replyError(w, 400, "invalid source rank %q", sourceRankString)
		return
	}

	// Read and decode the message
	data, err := io.ReadAll(req.Body)
	if err != nil {
		t.replyError(w, 500, "cannot read request body: %v", err)
		return
	}

	msg, err := DecodeMsg(data)
	if err != nil {
		t.replyError(w, 400, "invalid message: %v", err)
		return
	}

	if err := t.checkSource(sourceRank, msg); err != nil {
		t.replyError(w, 400, "%v", err)
		return
	}

	t.Log.Debug(2, "received %v from %d", msg, sourceRank)

	// The response is only sent once the message is in the inbox of the peer
	// so that the sender knows it has been delivered. Signals must also have
	// been taken by ReceiveSignal.
	var delivered bool

	switch msgv := msg.(type) {
	case *SignalMsg:
		delivered = deliver(req.Context(), t.signalChan, msgv, t.stopChan) &&
			await(req.Context(), t.signalAckChan, t.stopChan)
	case *ReleaseMsg:
		delivered = deliver(req.Context(), t.releaseChan, msgv, t.stopChan)
	default:
		delivered = deliver(req.Context(), t.relayChan, msg, t.stopChan)
	}

	if !delivered {
		t.replyError(w, 503, "peer %d is stopping", t.rank)
		return
	}

	t.replyEmpty(w, 204)
}

func (t *HTTPTransport) checkSource(sourceRank int, msg Message) error {
	switch msg.(type) {
	case *RelayMsg:
		if t.rank == 0 || sourceRank != Predecessor(t.rank, t.size) {
			return fmt.Errorf("unexpected relay message from %d", sourceRank)
		}

	case *ResultMsg:
		if t.rank != 0 || sourceRank != t.size-1 {
			return fmt.Errorf("unexpected result message from %d", sourceRank)
		}

	case *SignalMsg, *ReleaseMsg:
		if t.rank == 0 || sourceRank != 0 {
			return fmt.Errorf("unexpected %s message from %d",
				msg.GetType(), sourceRank)
		}
	}

	return nil
}

func deliver[T any](ctx context.Context, ch chan T, value T, stopChan chan struct{}) bool {
	select {
	case ch <- value:
		return true
	case <-stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

func await(ctx context.Context, ch chan struct{}, stopChan chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *HTTPTransport) replyEmpty(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

func (t *HTTPTransport) replyText(w http.ResponseWriter, status int, format string, args ...interface{}) {
	w.WriteHeader(status)
	fmt.Fprintf(w, format, args...)
}

func (t *HTTPTransport) replyError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	t.Log.Error(format, args...)
	t.replyText(w, status, format, args...)
}
