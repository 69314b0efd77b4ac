package subscription

import "encoding/json"

// ProtocolName is the websocket sub-protocol negotiated at handshake time.
const ProtocolName = "graphql-ws"

const (
	msgTypeConnectionInit = "connection_init"
	msgTypeConnectionAck  = "connection_ack"
	msgTypeStart          = "start"
	msgTypeData           = "data"
	msgTypeError          = "error"
	msgTypeComplete       = "complete"
)

// frame is one JSON-encoded message exchanged over the subscription
// connection, in either direction.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type initPayload struct {
	Headers authHeaders `json:"headers"`
}

type authHeaders struct {
	Authorization string `json:"authorization"`
}

type startPayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type errorPayload struct {
	Message string `json:"message"`
}
