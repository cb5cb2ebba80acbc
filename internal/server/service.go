// Package server accepts agency connections and drives the per-connection
// protocol state machine against the shared lottery coordinator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/danmuck/lotteryd/internal/lottery"
	"github.com/danmuck/lotteryd/internal/protocol/frame"
	"github.com/danmuck/lotteryd/internal/store"
)

type ServiceConfig struct {
	ListenAddr string
	// ServerID stamps the sender byte on every ACK and response frame.
	ServerID uint8
	// AgencyCount is the number of agencies the lottery barrier waits for.
	AgencyCount int
	// MaxConns caps concurrently served connections; zero derives the cap
	// from AgencyCount. A saturated pool blocks the accept loop.
	MaxConns      int
	WinningNumber int
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:    ":9030",
		ServerID:      0,
		AgencyCount:   5,
		WinningNumber: lottery.DefaultWinningNumber,
	}
}

type Service struct {
	cfg    ServiceConfig
	coord  *lottery.Coordinator
	limits frame.Limits

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clientCount atomic.Int64
}

func NewService(cfg ServiceConfig, st store.Store) *Service {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	coord := lottery.New(lottery.Config{
		AgencyCount:   cfg.AgencyCount,
		ServerID:      cfg.ServerID,
		WinningNumber: cfg.WinningNumber,
	}, st)
	return &Service{
		cfg:    cfg,
		coord:  coord,
		limits: frame.DefaultLimits(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Coordinator exposes the shared lottery state, mainly for tests.
func (s *Service) Coordinator() *lottery.Coordinator {
	return s.coord
}

// Run listens on the configured address and serves until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Int("agencies", s.cfg.AgencyCount).
		Msg("lotteryd listening")
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx is canceled or the listener fails.
// Admission is bounded by a weighted semaphore acquired before Accept, so a
// saturated worker pool back-pressures the accept loop instead of queuing.
// On cancel the listener and every tracked or parked connection is closed,
// then outstanding workers are joined.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.coord.Shutdown()
		s.closeAllConns()
		_ = ln.Close()
	}()

	sem := semaphore.NewWeighted(int64(s.maxConns()))
	var g errgroup.Group
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			_ = g.Wait()
			return fmt.Errorf("server: accept: %w", err)
		}
		s.trackConn(conn)
		g.Go(func() error {
			defer sem.Release(1)
			s.handleConn(conn)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) maxConns() int {
	if s.cfg.MaxConns > 0 {
		return s.cfg.MaxConns
	}
	if s.cfg.AgencyCount > 0 {
		return s.cfg.AgencyCount
	}
	return 1
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
