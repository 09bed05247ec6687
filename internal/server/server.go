package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/simkernel/internal/core/events/bus"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/core/sim"
)

// Server streams world snapshots to websocket spectators. Spectators only
// watch; nothing they send reaches the simulation.
type Server struct {
	httpServer *http.Server
	listener   net.Listener

	// Client management
	clients     sync.Map // map[string]*client
	clientCount int64    // atomic

	latest    atomic.Pointer[[]byte]
	published uint64 // atomic
	dropped   uint64 // atomic

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	config Config
	logger log.Log
	sub    bus.Subscription

	workerGroup sync.WaitGroup
}

// Config holds spectator server configuration
type Config struct {
	ListenAddr string
	MaxClients int

	// Frames buffered per client before new ones are dropped for it
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration

	// Token guards /ws when set
	Token string
	// Every publishes one snapshot per this many frames
	Every int
}

// DefaultConfig returns default spectator configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "127.0.0.1:8089",
		MaxClients:   64,
		SendBuffer:   8,
		WriteTimeout: 5 * time.Second,
		PingInterval: 20 * time.Second,
		Every:        1,
	}
}

func (c Config) validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	case c.MaxClients < 1:
		return fmt.Errorf("%w: max clients must be at least 1", ErrInvalidConfig)
	case c.SendBuffer < 1:
		return fmt.Errorf("%w: send buffer must be at least 1", ErrInvalidConfig)
	case c.Every < 1:
		return fmt.Errorf("%w: every must be at least 1", ErrInvalidConfig)
	case c.WriteTimeout <= 0 || c.PingInterval <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	return nil
}

// New creates a spectator server. A nil logger discards output.
func New(config Config, logger log.Log) (*Server, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		config: config,
		logger: logger.With(log.String("component", "spectator")),
	}, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to listen", log.String("addr", s.config.ListenAddr), log.Error(err))
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Spectator server failed", log.Error(err))
		}
	}()

	s.logger.Info("Spectator server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound listen address, useful when the port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.ListenAddr
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down and disconnects every spectator.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping spectator server")

	err := s.httpServer.Shutdown(ctx)

	// hijacked websocket connections are not covered by Shutdown
	s.clients.Range(func(_, value any) bool {
		value.(*client).close()
		return true
	})
	s.workerGroup.Wait()

	s.logger.Info("Spectator server stopped")
	return err
}

// Close stops the server if needed and detaches it from its event bus. A
// closed server cannot be started again.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if s.sub != nil {
		_ = s.sub.Cancel()
	}
	if atomic.LoadInt32(&s.running) == 1 {
		return s.Stop(context.Background())
	}
	return nil
}

// Attach publishes the world's frame events, one in every Config.Every.
func (s *Server) Attach(b bus.EventBus) error {
	sub, err := b.Subscribe(sim.EventFrame, func(e bus.Event) error {
		snap, ok := e.Data().(sim.Snapshot)
		if !ok {
			return fmt.Errorf("spectator: unexpected frame payload %T", e.Data())
		}
		if snap.Frame%uint64(s.config.Every) != 0 {
			return nil
		}
		return s.Publish(snap)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Publish sends snap to every spectator without blocking. Spectators whose
// buffer is full miss this snapshot.
func (s *Server) Publish(snap sim.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.latest.Store(&payload)
	atomic.AddUint64(&s.published, 1)

	s.clients.Range(func(_, value any) bool {
		c := value.(*client)
		select {
		case c.send <- payload:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
		return true
	})
	return nil
}

// Stats contains spectator server statistics
type Stats struct {
	Clients   int64  `json:"clients"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Running   bool   `json:"running"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Clients:   atomic.LoadInt64(&s.clientCount),
		Published: atomic.LoadUint64(&s.published),
		Dropped:   atomic.LoadUint64(&s.dropped),
		Running:   atomic.LoadInt32(&s.running) == 1,
	}
}
