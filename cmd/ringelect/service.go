package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-ringvote/pkg/ring"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"
	"github.com/google/uuid"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Ring    RingCfg            `json:"ring"`
}

type RingCfg struct {
	GroupSize int `json:"groupSize"`
	VoteRange int `json:"voteRange,omitempty"`
	MaxRounds int `json:"maxRounds,omitempty"`

	Peers []PeerCfg `json:"peers"`

	DataDirectory string `json:"dataDirectory"`

	// Seconds
	StartupTimeout int `json:"startupTimeout,omitempty"`
}

type PeerCfg struct {
	LocalAddress  string `json:"localAddress"`
	PublicAddress string `json:"publicAddress"`
	APIAddress    string `json:"apiAddress,omitempty"`
}

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	rank  int
	runId string

	transport   *ring.HTTPTransport
	peer        *ring.Peer
	recordStore *ring.RecordStore
	roundLog    *ring.RoundLog
	status      *Status
	apiServer   *APIServer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)

	v.CheckObject("ring", &cfg.Ring)
}

func (cfg *RingCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.WithChild("peers", func() {
		for _, peer := range cfg.Peers {
			v.CheckStringNotEmpty("localAddress", peer.LocalAddress)
			v.CheckStringNotEmpty("publicAddress", peer.PublicAddress)
		}
	})

	v.CheckStringNotEmpty("dataDirectory", cfg.DataDirectory)
}

func (cfg *RingCfg) Check() error {
	if cfg.GroupSize < 1 {
		return fmt.Errorf("invalid group size %d", cfg.GroupSize)
	}

	if cfg.VoteRange < 0 {
		return fmt.Errorf("invalid vote range %d", cfg.VoteRange)
	}

	if cfg.MaxRounds < 0 {
		return fmt.Errorf("invalid maximum number of rounds %d", cfg.MaxRounds)
	}

	if cfg.StartupTimeout < 0 {
		return fmt.Errorf("invalid startup timeout %d", cfg.StartupTimeout)
	}

	return nil
}

func (cfg *RingCfg) PeerAddresses() []ring.PeerAddress {
	addresses := make([]ring.PeerAddress, len(cfg.Peers))

	for i, peer := range cfg.Peers {
		addresses[i] = ring.PeerAddress{
			LocalAddress:  peer.LocalAddress,
			PublicAddress: peer.PublicAddress,
		}
	}

	return addresses
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p

	p.AddArgument("rank", "the rank of the peer in the ring")
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	rank, err := s.rankArgument()
	if err != nil {
		return err
	}

	s.rank = rank

	return s.Cfg.Ring.Check()
}

func (s *Service) rankArgument() (int, error) {
	rankString := s.Program.ArgumentValue("rank")

	rank, err := strconv.Atoi(rankString)
	if err != nil || rank < 0 {
		return -1, fmt.Errorf("invalid rank %q", rankString)
	}

	if rank >= len(s.Cfg.Ring.Peers) {
		return -1, fmt.Errorf("rank %d is not in the list of %d peers",
			rank, len(s.Cfg.Ring.Peers))
	}

	return rank, nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	rank, err := s.rankArgument()
	if err != nil {
		// Reported by ValidateCfg
		return cfg
	}

	peerCfg := s.Cfg.Ring.Peers[rank]

	address := peerCfg.APIAddress
	if address == "" {
		host, _, _ := net.SplitHostPort(peerCfg.LocalAddress)
		address = net.JoinHostPort(host, strconv.Itoa(8081+rank))
	}

	cfg.HTTPServers["api"] = &shttp.ServerCfg{
		Address:               address,
		LogSuccessfulRequests: true,
		ErrorHandler:          shttp.JSONErrorHandler,
	}

	return cfg
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	s.runId = uuid.NewString()

	if err := s.initRingPeer(); err != nil {
		return err
	}

	if err := s.initRecordStore(); err != nil {
		return err
	}

	if err := s.initAPIServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initRingPeer() error {
	logger := s.Log.Child("ring", log.Data{
		"rank": s.rank,
		"run":  s.runId,
	})

	s.roundLog = ring.NewRoundLog()
	s.status = NewStatus(s.runId, s.rank, s.roundLog,
		ring.NewConsoleReporter(os.Stdout))

	transport, err := ring.NewHTTPTransport(ring.HTTPTransportCfg{
		Rank:  s.rank,
		Peers: s.Cfg.Ring.PeerAddresses(),

		Logger: logger,
		Tracer: s.status,
	})
	if err != nil {
		return fmt.Errorf("cannot create ring transport: %w", err)
	}

	peerCfg := ring.PeerCfg{
		GroupSize: s.Cfg.Ring.GroupSize,
		VoteRange: s.Cfg.Ring.VoteRange,
		MaxRounds: s.Cfg.Ring.MaxRounds,

		Transport: transport,
		Votes: ring.NewRandomVoteSource(time.Now().UnixNano()+int64(s.rank),
			s.voteRange()),

		Logger: logger,
		Tracer: s.status,
	}

	if s.rank == 0 {
		peerCfg.Reporter = s.status
		peerCfg.RoundLog = s.roundLog
	}

	peer, err := ring.NewPeer(peerCfg)
	if err != nil {
		if errors.Is(err, ring.ErrGroupSizeMismatch) && s.rank == 0 {
			s.Log.Error("the ring must be started with %d peers, %d configured",
				s.Cfg.Ring.GroupSize, len(s.Cfg.Ring.Peers))
		}

		return peerCreationError(s.rank, err)
	}

	s.transport = transport
	s.peer = peer

	s.status.SetRole(peer.Role)

	return nil
}

// peerCreationError reports a group size mismatch in full on the coordinator
// only; other ranks still fail, with a short error.
func peerCreationError(rank int, err error) error {
	if errors.Is(err, ring.ErrGroupSizeMismatch) && rank != 0 {
		return ring.ErrGroupSizeMismatch
	}

	return fmt.Errorf("cannot create ring peer: %w", err)
}

func (s *Service) voteRange() int {
	if s.Cfg.Ring.VoteRange == 0 {
		return s.Cfg.Ring.GroupSize
	}

	return s.Cfg.Ring.VoteRange
}

func (s *Service) initRecordStore() error {
	dataDirectory := path.Join(s.Cfg.Ring.DataDirectory, strconv.Itoa(s.rank))

	if err := os.MkdirAll(dataDirectory, 0700); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", dataDirectory, err)
	}

	recordPath := path.Join(dataDirectory, "election.json")
	s.recordStore = ring.NewRecordStore(recordPath, s.rank)

	return nil
}

func (s *Service) initAPIServer() error {
	api, err := NewAPIServer(s)
	if err != nil {
		return fmt.Errorf("cannot create api server: %w", err)
	}

	s.apiServer = api

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	s.Log.Debug(1, "loading election record from %q",
		s.recordStore.FilePath())

	if err := s.recordStore.Open(); err != nil {
		return fmt.Errorf("cannot open record store: %w", err)
	}

	var previousRecord ring.ElectionRecord
	if err := s.recordStore.Read(&previousRecord); err != nil {
		return fmt.Errorf("cannot read election record: %w", err)
	}

	if !previousRecord.IsEmpty() {
		s.Log.Info("previous election %s terminated after %d rounds",
			previousRecord.RunId, previousRecord.Rounds)
	}

	if err := s.transport.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start ring transport: %w", err)
	}

	if err := s.apiServer.Init(); err != nil {
		return fmt.Errorf("cannot initialize api server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.runElection(ctx, ss.ErrorChan())

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.cancel()
	s.transport.Stop()

	s.wg.Wait()
}

func (s *Service) Terminate(ss *service.Service) {
	s.recordStore.Close()
}

func (s *Service) runElection(ctx context.Context, errorChan chan<- error) {
	defer s.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			err := ring.RecoverError(value)
			s.Log.Error("%v", err)

			s.status.Abort(err)
			sendError(ctx, errorChan, err)
		}
	}()

	startupTimeout := 30 * time.Second
	if s.Cfg.Ring.StartupTimeout > 0 {
		startupTimeout = time.Duration(s.Cfg.Ring.StartupTimeout) * time.Second
	}

	waitCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	err := s.transport.WaitForPeers(waitCtx, 200*time.Millisecond)
	cancel()

	if err != nil {
		s.abortElection(ctx, errorChan, fmt.Errorf("cannot form ring: %w", err))
		return
	}

	s.Log.Info("all %d peers ready, starting election", s.Cfg.Ring.GroupSize)

	result, err := s.peer.Run(ctx)
	if err != nil {
		s.abortElection(ctx, errorChan, fmt.Errorf("election failed: %w", err))
		return
	}

	s.status.Terminate(result)

	record := ring.NewElectionRecord(s.runId, result)
	if err := s.recordStore.Write(record); err != nil {
		s.Log.Error("cannot write election record: %v", err)
	}

	s.Log.Info("election terminated after %d rounds", result.Rounds)
}

func (s *Service) abortElection(ctx context.Context, errorChan chan<- error, err error) {
	s.status.Abort(err)

	// Errors caused by the service being stopped are not failures
	if ctx.Err() != nil || errors.Is(err, ring.ErrTransportClosed) {
		return
	}

	sendError(ctx, errorChan, err)
}

// sendError never blocks once the service is stopping: nobody reads the error
// channel anymore at this point.
func sendError(ctx context.Context, errorChan chan<- error, err error) {
	select {
	case errorChan <- err:
	case <-ctx.Done():
	}
}
