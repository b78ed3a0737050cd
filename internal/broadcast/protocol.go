// Package broadcast implements the Signal Broadcaster from spec.md §4.6:
// a gorilla/websocket fan-out server with per-subscriber bounded queues,
// non-blocking enqueue with backpressure eviction, HMAC-signed token
// auth, and per-subscriber rate limiting. Grounded on the teacher's
// internal/api/websocket.go (hub/broadcast-channel shape),
// internal/api/auth.go (bearer-token verification idiom) and
// internal/api/ratelimit.go (token-bucket-per-client pattern), generalized
// from a single gin-broadcast channel into the per-subscriber queue
// discipline spec.md §4.6 requires.
package broadcast

import "time"

// Inbound message types a client may send.
const (
	msgTypeAuth = "auth"
	msgTypePing = "ping"
)

// Outbound message type discriminators, per spec.md §6.
const (
	MsgTypeWelcome    = "welcome"
	MsgTypePong       = "pong"
	MsgTypePriceTick  = "price_tick"
	MsgTypeWhaleAlert = "whale_alert"
)

// Close codes, per spec.md §6.
const (
	CloseAuthFailure         = 1008
	CloseInternalError       = 1011
	CloseBackpressureEvicted = 1013
)

type inboundMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type welcomeMessage struct {
	Type          string   `json:"type"`
	SubscriberID  string   `json:"subscriberId"`
	Authenticated bool     `json:"authenticated"`
	Permissions   []string `json:"permissions"`
	ServerTime    int64    `json:"serverTime"`
}

type pongMessage struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
}

// PriceTickMessage is the wire shape of a price_tick push.
type PriceTickMessage struct {
	Type       string  `json:"type"`
	TickID     int64   `json:"tickId"`
	WallTime   int64   `json:"wallTime"`
	PriceUSD   float64 `json:"priceUsd"`
	Confidence float64 `json:"confidence"`
	SampleSize int     `json:"sampleSize"`
}

// WhaleAlertMessage is the wire shape of a whale_alert push.
type WhaleAlertMessage struct {
	Type                  string  `json:"type"`
	CorrelationID         string  `json:"correlationId"`
	Txid                  string  `json:"txid"`
	BTCValue              float64 `json:"btcValue"`
	Direction             string  `json:"direction"`
	FlowType              string  `json:"flowType"`
	UrgencyScore          float64 `json:"urgencyScore"`
	UrgencyLevel          string  `json:"urgencyLevel"`
	PredictedConfirmBlock int64   `json:"predictedConfirmBlock"`
	RBFEnabled            bool    `json:"rbfEnabled"`
	DetectedAt            int64   `json:"detectedAt"`
}

func unixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
