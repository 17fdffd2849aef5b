package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"dbshell/internal/events"
	"dbshell/internal/logger"
	"dbshell/internal/metrics"
	"dbshell/internal/registry"
	"dbshell/internal/table"
)

const component = "server"

// State is the lifecycle state of the listener loop.
type State int

const (
	StateIdle State = iota
	StateListening
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Serve is called twice.
var ErrAlreadyStarted = errors.New("server already started")

// Option configures a Server.
type Option func(*Server)

// WithRegistry injects the connection registry.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithMetrics injects the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithEventBus makes the server publish its events.
func WithEventBus(p events.Publisher) Option {
	return func(s *Server) {
		s.bus = p
	}
}

// WithLogger replaces logger.Default.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server accepts shell clients and serves the shared variable table.
type Server struct {
	config   Config
	table    table.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
	bus      events.Publisher
	log      *logger.Logger

	mu       sync.Mutex
	state    State
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	handlers sync.WaitGroup
}

// New creates a server over the given table.
func New(config Config, store table.Store, opts ...Option) *Server {
	s := &Server{
		config: config.withDefaults(),
		table:  store,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = logger.Default
	}
	return s
}

// Registry returns the live connection registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Metrics returns the server counters.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens on the configured address and blocks until ctx is done or
// Shutdown is called. A listen failure is returned immediately.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.config.Addr)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the accept loop on ln. When it returns, every handler
// has exited and every connection is closed.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if err := s.config.Validate(); err != nil {
		_ = ln.Close()
		return err
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrAlreadyStarted
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.state = StateListening
	s.mu.Unlock()

	defer close(s.done)
	defer cancel()

	s.log.Info(component, "listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.acceptLoop(ctx, ln)

	s.mu.Lock()
	s.state = StateShuttingDown
	s.mu.Unlock()

	closed := s.registry.CloseAll()
	s.log.Info(component, "shutting down, closing %d connection(s)", closed)
	s.handlers.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	snap := s.metrics.Snapshot()
	s.log.Info(component, "stopped (connections: %d, commands: %d)",
		snap.ConnectionsAccepted, snap.Saves+snap.Reads+snap.Clears)
	return nil
}

// acceptLoop returns once the listener is closed by shutdown.
// Other accept errors are logged and retried with backoff.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			s.log.Error(component, "accept error: %v; retrying in %v", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		c := s.registry.Add(nc)
		s.metrics.ConnectionAccepted()
		s.log.Info(c.ID(), "connected client %s", c.RemoteAddr())
		s.publish(events.NewClientConnectedEvent(c.ID(), c.RemoteAddr()))

		s.handlers.Add(1)
		go s.handle(c)
	}
}

// Shutdown stops accepting, closes every connection and waits for the
// handlers, or until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	state := s.state
	s.mu.Unlock()

	if state == StateIdle || cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "shutdown")
	}
}

func (s *Server) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
