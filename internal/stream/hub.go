package stream

import (
	"encoding/json"
	"sync"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Hub fans merged fleet snapshots out to connected dashboard clients. Sends
// never block the merge path: slow clients drop frames, and broadcasts beyond
// the rate cap are coalesced into the next one.
type Hub struct {
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	clients map[*Client]struct{}
	last    []byte
}

type Client struct {
	Send chan []byte
}

func NewHub(logger zerolog.Logger, broadcastsPerSecond float64) *Hub {
	return &Hub{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(broadcastsPerSecond), 1),
		clients: map[*Client]struct{}{},
	}
}

// Register adds a client and primes it with the latest snapshot so a freshly
// opened dashboard doesn't wait for the next trip update.
func (h *Hub) Register() *Client {
	client := &Client{Send: make(chan []byte, 16)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	if h.last != nil {
		client.Send <- h.last
	}
	streamClientsGauge.Set(float64(len(h.clients)))
	h.mu.Unlock()

	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
	streamClientsGauge.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

func (h *Hub) Broadcast(cars []models.Car) {
	payload, err := json.Marshal(cars)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal fleet snapshot")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = payload

	if !h.limiter.Allow() {
		return
	}

	for client := range h.clients {
		select {
		case client.Send <- payload:
		default:
			droppedFramesCntr.Inc()
		}
	}
	broadcastsCntr.Inc()
}

// Prometheus metrics
var streamClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fleet_stream_clients",
	Help: "Number of connected dashboard stream clients.",
})

var broadcastsCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_stream_broadcasts_total",
	Help: "Total snapshots fanned out to dashboard clients.",
})

var droppedFramesCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_stream_dropped_frames_total",
	Help: "Total frames dropped because a client's send buffer was full.",
})
