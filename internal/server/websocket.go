package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/simkernel/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.running) == 0 {
		http.Error(w, ErrServerNotRunning.Error(), http.StatusServiceUnavailable)
		return
	}
	if int(atomic.LoadInt64(&s.clientCount)) >= s.config.MaxClients {
		s.logger.Warn("Maximum spectators reached, rejecting connection", log.String("remote_addr", r.RemoteAddr))
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.config.SendBuffer),
		done: make(chan struct{}),
	}
	// late joiners see the current state right away
	if latest := s.latest.Load(); latest != nil {
		c.send <- *latest
	}
	s.clients.Store(c.id, c)
	atomic.AddInt64(&s.clientCount, 1)

	s.logger.Info("Spectator connected",
		log.String("client_id", c.id),
		log.String("remote_addr", conn.RemoteAddr().String()),
		log.Int64("total_clients", atomic.LoadInt64(&s.clientCount)))

	s.workerGroup.Add(2)
	go s.writePump(c)
	go s.readPump(c)
}

// readPump only watches for the connection going away; spectator messages
// are discarded.
func (s *Server) readPump(c *client) {
	defer s.workerGroup.Done()
	defer func() {
		if _, loaded := s.clients.LoadAndDelete(c.id); loaded {
			atomic.AddInt64(&s.clientCount, -1)
		}
		c.close()
		s.logger.Info("Spectator disconnected",
			log.String("client_id", c.id),
			log.Int64("total_clients", atomic.LoadInt64(&s.clientCount)))
	}()

	wait := 2 * s.config.PingInterval
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	defer s.workerGroup.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("Failed to send snapshot", log.String("client_id", c.id), log.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
