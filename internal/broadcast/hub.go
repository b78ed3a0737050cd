package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// authTimeout is the window a client has to send {type:"auth"} before
// the connection is closed, per spec.md §4.6.
const authTimeout = 5 * time.Second

// subscriberRatePerSec and subscriberBurst bound per-subscriber outbound
// message rate at enqueue time.
const (
	subscriberRatePerSec = 50.0
	subscriberBurst      = 100
)

// Config configures the Hub's auth behavior.
type Config struct {
	AuthEnabled    bool
	Signer         *TokenSigner
	AllowedOrigins map[string]struct{} // empty means allow all, matching the teacher's permissive default
}

// Hub is the WebSocket fan-out server described in spec.md §4.6. It owns
// the subscriber registry behind its own dispatcher goroutine (Run),
// following the teacher's internal/api/websocket.go Hub shape generalized
// to per-subscriber queues instead of one shared broadcast channel.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	done chan struct{}
	log  *slog.Logger
}

// NewHub constructs a Hub. If cfg.AllowedOrigins is empty, all origins
// are accepted, matching the teacher's CheckOrigin-allow-all default for
// a server meant to be reached from an operator's own dashboard.
func NewHub(cfg Config) *Hub {
	h := &Hub{
		cfg:         cfg,
		subscribers: make(map[string]*Subscriber),
		done:        make(chan struct{}),
		log:         logging.For("broadcast.hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	_, ok := h.cfg.AllowedOrigins[origin]
	return ok
}

// ServeWS upgrades an HTTP request to a WebSocket connection for the
// given stream ("whale" or "price") and runs its full lifecycle: accept,
// optional auth handshake, register, per-subscriber writer loop, close.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, stream string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub, ok := h.handshake(conn, stream)
	if !ok {
		return
	}

	h.register(sub)
	defer h.unregister(sub)

	sub.conn.SetPongHandler(func(string) error {
		sub.recordPong()
		return nil
	})

	writerDone := make(chan struct{})
	go func() {
		sub.writerLoop(h.done)
		close(writerDone)
	}()

	// Read loop: detects client disconnects and drains inbound pings.
	// This goroutine owns no write path; it only reads, per spec.md
	// §4.6's "single writer task per subscriber" rule.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			sub.MarkDead()
			break
		}
		h.handleInbound(sub, raw)
	}
	<-writerDone
}

// handshake performs the optional auth step and returns a Subscriber
// that has been sent its welcome message but is not yet registered, or
// ok=false if the connection was closed during handshake.
func (h *Hub) handshake(conn *websocket.Conn, stream string) (*Subscriber, bool) {
	if !h.cfg.AuthEnabled {
		sub := newSubscriber(uuid.NewString(), stream, conn, false, nil, newSubscriberRateLimiter(subscriberRatePerSec, subscriberBurst))
		h.sendWelcome(sub)
		return sub, true
	}

	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	var msg inboundMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != msgTypeAuth {
		h.closeHandshake(conn, CloseAuthFailure, "auth timeout or malformed handshake")
		return nil, false
	}

	subID, perms, err := h.cfg.Signer.Verify(msg.Token)
	if err != nil {
		h.closeHandshake(conn, CloseAuthFailure, "invalid token")
		return nil, false
	}
	_ = conn.SetReadDeadline(time.Time{})

	sub := newSubscriber(subID, stream, conn, true, perms, newSubscriberRateLimiter(subscriberRatePerSec, subscriberBurst))
	h.sendWelcome(sub)
	return sub, true
}

func (h *Hub) closeHandshake(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (h *Hub) sendWelcome(sub *Subscriber) {
	welcome := welcomeMessage{
		Type:          MsgTypeWelcome,
		SubscriberID:  sub.ID,
		Authenticated: sub.Authenticated,
		Permissions:   sub.Permissions,
		ServerTime:    unixMillis(time.Now()),
	}
	payload, err := encodeMessage(welcome)
	if err != nil {
		return
	}
	_ = sub.conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) handleInbound(sub *Subscriber, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type == msgTypePing {
		pong := pongMessage{Type: MsgTypePong, ServerTime: unixMillis(time.Now())}
		payload, err := encodeMessage(pong)
		if err != nil {
			return
		}
		sub.Enqueue(payload)
	}
}

func (h *Hub) register(sub *Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
}

func (h *Hub) unregister(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub.ID)
	h.mu.Unlock()
	sub.closeConn(CloseInternalError, "")
}

// BroadcastPriceTick fans PriceEstimate out to every "price" stream
// subscriber without blocking. Per spec.md §3's durability invariant,
// callers broadcasting a WhaleAlert must have already persisted its
// PredictionRecord — the Hub itself has no opinion on ordering beyond
// "never block the producer."
func (h *Hub) BroadcastPriceTick(est models.PriceEstimate) {
	msg := PriceTickMessage{
		Type:       MsgTypePriceTick,
		TickID:     est.TickID,
		WallTime:   unixMillis(est.WallTime),
		PriceUSD:   est.PriceUSD,
		Confidence: est.Confidence,
		SampleSize: est.SampleSize,
	}
	payload, err := encodeMessage(msg)
	if err != nil {
		return
	}
	h.broadcastTo("price", payload)
}

// BroadcastWhaleAlert fans a WhaleAlert out to every "whale" stream
// subscriber without blocking.
func (h *Hub) BroadcastWhaleAlert(alert models.WhaleAlert) {
	msg := WhaleAlertMessage{
		Type:                  MsgTypeWhaleAlert,
		CorrelationID:         alert.CorrelationID,
		Txid:                  alert.Txid,
		BTCValue:              alert.BTCValue,
		Direction:             string(alert.Direction),
		FlowType:              string(alert.FlowType),
		UrgencyScore:          alert.UrgencyScore,
		UrgencyLevel:          string(alert.UrgencyLevel),
		PredictedConfirmBlock: alert.PredictedConfirmBlock,
		RBFEnabled:            alert.RBFEnabled,
		DetectedAt:            unixMillis(alert.DetectedAt),
	}
	payload, err := encodeMessage(msg)
	if err != nil {
		return
	}
	h.broadcastTo("whale", payload)
}

// broadcastTo enqueues payload into every subscriber of the given stream,
// evicting any subscriber whose queue is saturated. This is the
// non-blocking fan-out discipline required by spec.md §4.6 and testable
// property 4 ("no producer stall").
func (h *Hub) broadcastTo(stream string, payload []byte) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.Stream == stream {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if !sub.Enqueue(payload) && sub.IsDead() {
			go sub.closeConn(CloseBackpressureEvicted, "queue saturated")
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers,
// used by the health endpoint.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Shutdown closes every subscriber's writer loop gracefully.
func (h *Hub) Shutdown(ctx context.Context) {
	close(h.done)
	<-ctx.Done()
}
