package subscription

import (
	"encoding/json"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
)

// handleFrame interprets one inbound frame of the graphql-ws message
// sequence and dispatches it. Malformed frames are logged and swallowed;
// they must never take the subscription down.
func (t *Transport) handleFrame(conn *websocket.Conn, raw []byte) {
	if !gjson.ValidBytes(raw) {
		parseErrsCntr.Inc()
		t.logger.Warn().Str("frame", string(raw)).Msg("malformed frame, dropping")
		return
	}

	msgType := gjson.GetBytes(raw, "type").String()
	framesCntr.WithLabelValues(frameLabel(msgType)).Inc()

	switch msgType {
	case msgTypeConnectionAck:
		t.handleAck(conn)
	case msgTypeData:
		t.handleData(raw)
	case msgTypeError:
		t.handleServerError(raw)
	case msgTypeComplete:
		// terminal signal for the subscription id; the connection stays open
		t.logger.Debug().Str("id", gjson.GetBytes(raw, "id").String()).Msg("subscription complete received")
	default:
		// unrecognized types are ignored for forward compatibility
		t.logger.Debug().Str("type", msgType).Msg("ignoring unrecognized frame type")
	}
}

// handleAck completes the handshake: send start for the trip subscription
// and move to Active.
func (t *Transport) handleAck(conn *websocket.Conn) {
	t.mu.Lock()
	if t.ackTimer != nil {
		t.ackTimer.Stop()
		t.ackTimer = nil
	}
	t.mu.Unlock()

	payload, err := json.Marshal(startPayload{
		Query:     TripSubscriptionQuery,
		Variables: map[string]any{"tripId": t.target},
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to build start payload")
		return
	}

	if err := t.writeFrame(conn, frame{Type: msgTypeStart, ID: "trip-" + t.target, Payload: payload}); err != nil {
		t.dropped(conn, errors.Wrap(err, "failed to send start"))
		return
	}

	t.mu.Lock()
	if t.conn == conn {
		t.event(eventAcked)
	}
	t.mu.Unlock()

	t.logger.Info().Msg("trip subscription active")
}

func (t *Transport) handleData(raw []byte) {
	t.mu.Lock()
	active := t.state.Current() == StateActive
	t.mu.Unlock()
	if !active {
		t.logger.Debug().Msg("data frame before subscription active, ignoring")
		return
	}

	var env struct {
		Payload models.GraphQlData[models.TripData] `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		parseErrsCntr.Inc()
		t.logger.Warn().Err(err).Msg("failed to decode data frame, dropping")
		return
	}

	t.handler.OnUpdate(t.target, env.Payload.Data.Trip)
}

// handleServerError surfaces a server-level subscription error. This is not
// a transport failure; the connection remains usable.
func (t *Transport) handleServerError(raw []byte) {
	var env struct {
		Payload errorPayload `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		parseErrsCntr.Inc()
		t.logger.Warn().Err(err).Msg("failed to decode error frame, dropping")
		return
	}

	t.handler.OnError(t.target, errors.Errorf("subscription error for trip %s: %s", t.target, env.Payload.Message))
}

// frameLabel keeps the metric label set bounded to the known protocol types.
func frameLabel(msgType string) string {
	switch msgType {
	case msgTypeConnectionAck, msgTypeData, msgTypeError, msgTypeComplete:
		return msgType
	}
	return "other"
}

// Prometheus metrics
var framesCntr = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fleet_subscription_frames_total",
	Help: "Total inbound subscription frames by type.",
}, []string{"type"})

var parseErrsCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_subscription_parse_errors_total",
	Help: "Total inbound frames dropped because they could not be parsed.",
})
