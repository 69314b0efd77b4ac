package subscription

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

// Connection lifecycle states, one machine per Transport.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateAwaitingAck  = "awaiting_ack"
	StateActive       = "active"
	StateReconnecting = "reconnecting"
	StateClosed       = "closed"
)

const (
	eventDial     = "dial"
	eventOpened   = "opened"
	eventInitSent = "init_sent"
	eventAcked    = "acked"
	eventDropped  = "dropped"
	eventShutdown = "shutdown"
)

var (
	ErrRetryBudgetExhausted = errors.New("reconnect attempts exhausted")
	ErrAckTimeout           = errors.New("connection_ack not received in time")
)

// Handler receives the typed events a Transport produces. All callbacks are
// delivered asynchronously; none of them may be invoked again re-entrantly
// from within themselves.
type Handler interface {
	// OnUpdate delivers a full trip snapshot parsed from one data frame.
	OnUpdate(target string, trip models.Trip)
	// OnError delivers transport, protocol and terminal errors. Only an
	// error wrapping ErrRetryBudgetExhausted is terminal.
	OnError(target string, err error)
	// OnClosed fires once when the Transport reaches Closed after
	// exhausting its retry budget. Caller-initiated Close does not fire it.
	OnClosed(target string)
}

// Transport owns one websocket connection to the subscription endpoint for a
// single trip target: dialing, the graphql-ws handshake, reconnection with
// exponential backoff, and teardown.
type Transport struct {
	// Tunables, to be adjusted before Open when the defaults don't fit.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	AckTimeout  time.Duration

	target   string
	endpoint string
	token    string
	handler  Handler
	logger   zerolog.Logger
	dialer   *websocket.Dialer

	mu        sync.Mutex
	state     *fsm.FSM
	conn      *websocket.Conn
	attempts  int
	reconnect *time.Timer
	ackTimer  *time.Timer
	enabled   bool
}

// NewTransport creates a Transport for one trip target against the given
// websocket endpoint. It does not connect; call Open.
func NewTransport(target, wsEndpoint, token string, logger zerolog.Logger, handler Handler) *Transport {
	t := &Transport{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		AckTimeout:  10 * time.Second,
		target:      target,
		endpoint:    wsEndpoint,
		token:       token,
		handler:     handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{ProtocolName},
		},
	}
	t.logger = logger.With().
		Str("tripId", target).
		Str("connId", ksuid.New().String()).
		Logger()
	t.state = newConnectionFSM(&t.logger)
	return t
}

func newConnectionFSM(logger *zerolog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected, StateReconnecting}, Dst: StateConnecting},
			{Name: eventOpened, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventInitSent, Src: []string{StateConnected}, Dst: StateAwaitingAck},
			{Name: eventAcked, Src: []string{StateAwaitingAck}, Dst: StateActive},
			{Name: eventDropped, Src: []string{StateConnecting, StateConnected, StateAwaitingAck, StateActive}, Dst: StateReconnecting},
			{Name: eventShutdown, Src: []string{StateDisconnected, StateConnecting, StateConnected, StateAwaitingAck, StateActive, StateReconnecting}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("connection state changed")
			},
		},
	)
}

// Target returns the trip identifier this Transport subscribes to.
func (t *Transport) Target() string {
	return t.target
}

// State returns the current connection state name.
func (t *Transport) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Current()
}

// Open starts connecting in the background. It never returns an error; a
// failed dial feeds the reconnect policy instead of surfacing to the caller.
func (t *Transport) Open() {
	t.mu.Lock()
	if t.enabled || t.state.Current() == StateClosed {
		t.mu.Unlock()
		return
	}
	t.enabled = true
	t.mu.Unlock()

	go t.dial()
}

// Close tears the connection down for good: it cancels any pending reconnect
// timer, closes the socket and suppresses all further automatic reconnection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Current() == StateClosed {
		return
	}
	t.enabled = false
	if t.reconnect != nil {
		t.reconnect.Stop()
		t.reconnect = nil
	}
	if t.ackTimer != nil {
		t.ackTimer.Stop()
		t.ackTimer = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.event(eventShutdown)
}

func (t *Transport) dial() {
	t.mu.Lock()
	if !t.enabled || t.state.Current() == StateClosed {
		t.mu.Unlock()
		return
	}
	t.event(eventDial)
	t.mu.Unlock()

	conn, resp, err := t.dialer.Dial(t.endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.dropped(nil, errors.Wrap(err, "websocket dial failed"))
		return
	}

	t.mu.Lock()
	if !t.enabled || t.state.Current() == StateClosed {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.attempts = 0
	t.event(eventOpened)
	connectsCntr.Inc()
	t.mu.Unlock()

	t.sendConnectionInit(conn)
	go t.readLoop(conn)
}

func (t *Transport) sendConnectionInit(conn *websocket.Conn) {
	payload, _ := json.Marshal(initPayload{Headers: authHeaders{Authorization: "Bearer " + t.token}})
	if err := t.writeFrame(conn, frame{Type: msgTypeConnectionInit, Payload: payload}); err != nil {
		t.dropped(conn, errors.Wrap(err, "failed to send connection_init"))
		return
	}

	t.mu.Lock()
	if t.conn == conn {
		t.event(eventInitSent)
		// The protocol has no handshake timeout of its own; an unacknowledged
		// init would otherwise leave the machine in AwaitingAck forever.
		t.ackTimer = time.AfterFunc(t.AckTimeout, func() { t.ackExpired(conn) })
	}
	t.mu.Unlock()
}

func (t *Transport) ackExpired(conn *websocket.Conn) {
	t.mu.Lock()
	expired := t.conn == conn && t.state.Current() == StateAwaitingAck
	t.mu.Unlock()
	if expired {
		t.dropped(conn, ErrAckTimeout)
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.dropped(conn, err)
			return
		}
		t.handleFrame(conn, raw)
	}
}

// writeFrame serializes and transmits one frame on conn. Frames addressed to
// a superseded connection or sent while the socket is not writable are
// silently dropped.
func (t *Transport) writeFrame(conn *websocket.Conn, f frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.conn != conn {
		return nil
	}
	switch t.state.Current() {
	case StateConnected, StateAwaitingAck, StateActive:
	default:
		return nil
	}
	return conn.WriteJSON(f)
}

// dropped handles abnormal termination of the given connection: schedule a
// reconnect with exponential backoff, or go terminal once the retry budget is
// spent. A nil conn marks a dial failure. Caller-initiated Close never lands
// here because it flips enabled first.
func (t *Transport) dropped(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if !t.enabled || t.state.Current() == StateClosed || (conn != nil && t.conn != conn) {
		t.mu.Unlock()
		return
	}
	if t.ackTimer != nil {
		t.ackTimer.Stop()
		t.ackTimer = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.event(eventDropped)
	t.attempts++

	if t.attempts > t.MaxAttempts {
		t.event(eventShutdown)
		t.enabled = false
		terminalClosuresCntr.Inc()
		t.mu.Unlock()

		t.logger.Error().Err(cause).Int("attempts", t.MaxAttempts).Msg("subscription closed after exhausting reconnect attempts")
		t.handler.OnError(t.target, errors.Wrapf(ErrRetryBudgetExhausted, "trip %s", t.target))
		t.handler.OnClosed(t.target)
		return
	}

	delay := t.backoffDelay(t.attempts)
	attempt := t.attempts
	t.reconnect = time.AfterFunc(delay, t.dial)
	reconnectsCntr.Inc()
	t.mu.Unlock()

	t.logger.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("subscription dropped, reconnect scheduled")
	t.handler.OnError(t.target, cause)
}

// backoffDelay returns min(BaseDelay * 2^attempt, MaxDelay).
func (t *Transport) backoffDelay(attempt int) time.Duration {
	d := t.BaseDelay << uint(attempt)
	if d > t.MaxDelay || d <= 0 {
		return t.MaxDelay
	}
	return d
}

// event fires a state machine transition. Invalid transitions only get
// logged; the machine is the source of truth and the guards above keep
// callers honest.
func (t *Transport) event(name string) {
	if err := t.state.Event(context.Background(), name); err != nil {
		t.logger.Debug().Err(err).Str("event", name).Msg("state transition rejected")
	}
}

// Prometheus metrics
var connectsCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_subscription_connects_total",
	Help: "Total successful subscription connections.",
})

var reconnectsCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_subscription_reconnects_total",
	Help: "Total reconnect attempts scheduled after abnormal closes.",
})

var terminalClosuresCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_subscription_terminal_closures_total",
	Help: "Total subscriptions closed after exhausting their retry budget.",
})
