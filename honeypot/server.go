package honeypot

import (
	"bastion/core"
	"bastion/metrics"
	"bastion/util"
	"bastion/util/goroutine"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TargetService is stored as target_service on every honeypot attack event
const TargetService = "honeypot"

const (
	defaultReadTimeout    = 10 * time.Second
	defaultMaxConnections = 256
	limiterCacheSize      = 4096
)

// Store is the subset of the event store the honeypot needs
type Store interface {
	core.AttackEventRecorder
	core.SystemEventRecorder
}

// ListenerConfig is one deception endpoint
type ListenerConfig struct {
	Port     int
	Protocol string
	Handler  string
}

// Config configures a Server
type Config struct {
	BindHost       string
	Listeners      []ListenerConfig
	ReadTimeout    time.Duration
	RatePerSecond  float64
	Burst          int
	MaxConnections int
}

// Server runs one TCP listener per configured endpoint and records every
// accepted connection as an attack event. A listener that cannot bind is
// reported and skipped; per-connection failures are only logged.
type Server struct {
	store    Store
	logger   *zap.SugaredLogger
	cfg      Config
	limiters *lru.Cache[string, *rate.Limiter]
	connSem  chan struct{}

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewServer creates a Server; nothing is bound until Start
func NewServer(store Store, cfg Config, logger *zap.SugaredLogger) (*Server, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter cache: %w", err)
	}

	return &Server{
		store:    store,
		logger:   logger,
		cfg:      cfg,
		limiters: limiters,
		connSem:  make(chan struct{}, cfg.MaxConnections),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Start binds every listener and begins accepting. It returns the number of
// listeners bound; bind failures are recorded as HONEYPOT_ERROR warnings.
func (s *Server) Start(ctx context.Context) (int, error) {
	bound := 0
	for _, lc := range s.cfg.Listeners {
		addr := net.JoinHostPort(s.cfg.BindHost, strconv.Itoa(lc.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.logger.Warnw("Honeypot listener failed to bind", "addr", addr, "handler", lc.Handler, "error", err)
			if recErr := s.store.RecordSystemEvent(ctx, core.EventHoneypotError,
				fmt.Sprintf("Failed to bind %d: %v", lc.Port, err), core.SeverityWarning); recErr != nil {
				return bound, recErr
			}
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			_ = ln.Close()
			return bound, nil
		}
		s.listeners = append(s.listeners, ln)
		s.mu.Unlock()

		bound++
		s.logger.Infow("Honeypot listener started", "addr", ln.Addr().String(), "handler", lc.Handler)
		s.wg.Add(1)
		go s.acceptLoop(ln, lc.Handler)
	}

	if err := s.store.RecordSystemEvent(ctx, core.EventHoneypotStart,
		fmt.Sprintf("Started %d honeypot listeners", bound), core.SeverityInfo); err != nil {
		return bound, err
	}
	return bound, nil
}

// Run starts the listeners and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Start(ctx); err != nil {
		s.Stop()
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Addrs returns the bound listener addresses
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Stop closes every listener and open connection and waits for handlers to exit
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for _, ln := range s.listeners {
			_ = ln.Close()
		}
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener, handler string) {
	defer s.wg.Done()
	defer goroutine.Recover("honeypot-accept-"+handler, s.logger)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debugw("Honeypot accept error", "handler", handler, "error", err)
			continue
		}

		ip := remoteIP(conn)
		if !s.limiterFor(ip).Allow() {
			metrics.HoneypotRateLimited.WithLabelValues(handler).Inc()
			_ = conn.Close()
			continue
		}

		select {
		case s.connSem <- struct{}{}:
		default:
			metrics.HoneypotRateLimited.WithLabelValues(handler).Inc()
			_ = conn.Close()
			continue
		}

		if !s.track(conn) {
			<-s.connSem
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConnection(conn, handler, ip)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	if lim, ok := s.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.Burst)
	s.limiters.Add(ip, lim)
	return lim
}

// handleConnection emulates the service and records what the client sent
func (s *Server) handleConnection(conn net.Conn, handler, ip string) {
	defer s.wg.Done()
	defer func() { <-s.connSem }()
	defer s.untrack(conn)
	defer conn.Close()
	defer goroutine.Recover("honeypot-conn-"+handler, s.logger)

	metrics.HoneypotConnections.WithLabelValues(handler).Inc()
	profile := ProfileFor(handler)
	_ = conn.SetDeadline(time.Now().Add(s.cfg.ReadTimeout))

	if len(profile.Banner) > 0 {
		if _, err := conn.Write(profile.Banner); err != nil {
			s.logger.Debugw("Honeypot banner write failed", "handler", handler, "ip", ip, "error", err)
			return
		}
	}

	buf := make([]byte, profile.ReadSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		s.logger.Debugw("Honeypot read returned no data", "handler", handler, "ip", ip, "error", err)
	}

	event := core.AttackEvent{
		AttackerIP:    ip,
		AttackType:    handler,
		TargetService: TargetService,
		Payload:       util.TruncateUTF8(buf[:n], profile.PayloadRunes),
		RiskScore:     profile.Risk,
	}
	if err := s.store.RecordAttackEvent(context.Background(), event); err != nil {
		s.logger.Errorw("Failed to record honeypot attack", "handler", handler, "ip", ip, "error", err)
	}

	if len(profile.Reply) > 0 {
		_, _ = conn.Write(profile.Reply)
	}
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
