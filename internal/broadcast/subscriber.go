package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rawblock/utxoracle-live/internal/logging"
)

// sendQueueSize is the default bounded per-subscriber queue depth from
// spec.md §4.6.
const sendQueueSize = 256

// pingInterval and pongTimeout implement spec.md §4.6's keepalive policy.
const (
	pingInterval = 30 * time.Second
	pongTimeout  = 90 * time.Second
)

// Subscriber is a single Broadcaster-owned WebSocket session. Exactly one
// writer goroutine owns the connection; Enqueue is the only way other
// goroutines may cause a write, and it never blocks.
type Subscriber struct {
	ID            string
	Authenticated bool
	Permissions   []string
	Stream        string // "whale" or "price"
	ConnectedAt   time.Time

	conn      *websocket.Conn
	sendQueue chan []byte
	limiter   *subscriberRateLimiter
	dead      atomic.Bool
	closeOnce sync.Once
	lastPong  atomic.Int64 // unix nanos

	log *slog.Logger
}

func newSubscriber(id, stream string, conn *websocket.Conn, authenticated bool, perms []string, limiter *subscriberRateLimiter) *Subscriber {
	s := &Subscriber{
		ID:            id,
		Authenticated: authenticated,
		Permissions:   perms,
		Stream:        stream,
		ConnectedAt:   time.Now(),
		conn:          conn,
		sendQueue:     make(chan []byte, sendQueueSize),
		limiter:       limiter,
		log:           logging.For("broadcast.subscriber"),
	}
	s.lastPong.Store(time.Now().UnixNano())
	return s
}

// Enqueue attempts to place payload on the subscriber's send queue
// without blocking, applying the rate limiter first. If the queue is
// full or the subscriber is already dead, it marks the subscriber dead
// (idempotently — a second enqueue against a dead subscriber is a no-op)
// and returns false; the caller is expected to close the subscriber with
// CloseBackpressureEvicted.
func (s *Subscriber) Enqueue(payload []byte) (delivered bool) {
	if s.dead.Load() {
		return false
	}
	if s.limiter != nil && !s.limiter.allow() {
		return false
	}
	select {
	case s.sendQueue <- payload:
		return true
	default:
		s.dead.Store(true)
		return false
	}
}

// IsDead reports whether this subscriber has been marked for eviction.
func (s *Subscriber) IsDead() bool {
	return s.dead.Load()
}

// MarkDead flags the subscriber as dead without closing the socket; the
// writer loop observes this on its next queue drain and exits.
func (s *Subscriber) MarkDead() {
	s.dead.Store(true)
}

// recordPong updates the last-pong timestamp used by the keepalive monitor.
func (s *Subscriber) recordPong() {
	s.lastPong.Store(time.Now().UnixNano())
}

func (s *Subscriber) pongExpired(now time.Time) bool {
	last := time.Unix(0, s.lastPong.Load())
	return now.Sub(last) > pongTimeout
}

// writerLoop drains the send queue and writes to the socket until the
// subscriber is marked dead or the queue closes. A write error marks the
// subscriber dead, per spec.md §4.6.
func (s *Subscriber) writerLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.closeConn(CloseInternalError, "server shutting down")
			return
		case payload, ok := <-s.sendQueue:
			if !ok {
				return
			}
			if s.dead.Load() {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("subscriber write failed", "subscriber", s.ID, "error", err)
				s.dead.Store(true)
				return
			}
		case <-ticker.C:
			if s.pongExpired(time.Now()) {
				s.closeConn(CloseInternalError, "ping timeout")
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.dead.Store(true)
				return
			}
		}
		if s.dead.Load() {
			return
		}
	}
}

// closeConn closes the underlying connection exactly once with the given
// WebSocket close code and reason.
func (s *Subscriber) closeConn(code int, reason string) {
	s.closeOnce.Do(func() {
		s.dead.Store(true)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = s.conn.Close()
	})
}

func encodeMessage(v any) ([]byte, error) {
	return json.Marshal(v)
}
