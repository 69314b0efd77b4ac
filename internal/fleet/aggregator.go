package fleet

import (
	"sync"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/Genocadio/cavgocompany-sub001/internal/subscription"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Subscription is the part of the transport the Aggregator drives.
type Subscription interface {
	Open()
	Close()
}

// Aggregator maintains exactly one subscription transport per unique trip
// target referenced by the fleet, folds their snapshots into the shared car
// view model and hands each merged snapshot to onSnapshot.
type Aggregator struct {
	logger     zerolog.Logger
	onSnapshot func([]models.Car)

	newSubscription func(target string) Subscription

	mu     sync.Mutex
	subs   map[string]Subscription
	latest map[string]TripEntry
	base   []models.Car
	merged []models.Car
	seq    uint64

	pubMu        sync.Mutex
	publishedSeq uint64
}

// NewAggregator derives the websocket endpoint from the configured HTTP
// GraphQL endpoint and returns a ready Aggregator. A missing or unusable
// endpoint is the one synchronous failure; the Aggregator never attempts to
// connect in that case.
func NewAggregator(httpEndpoint, token string, logger zerolog.Logger, onSnapshot func([]models.Car)) (*Aggregator, error) {
	wsEndpoint, err := subscription.EndpointFromHTTP(httpEndpoint)
	if err != nil {
		return nil, err
	}

	a := &Aggregator{
		logger:     logger,
		onSnapshot: onSnapshot,
		subs:       make(map[string]Subscription),
		latest:     make(map[string]TripEntry),
	}
	a.newSubscription = func(target string) Subscription {
		return subscription.NewTransport(target, wsEndpoint, token, logger, a)
	}
	return a, nil
}

// Reconcile aligns the active subscription set with the unique non-empty trip
// targets referenced by cars: new targets get a transport, targets no longer
// referenced are closed synchronously so no stale reconnect can race a
// torn-down trip. Calling it twice with the same target set is a no-op for
// already-open subscriptions.
func (a *Aggregator) Reconcile(cars []models.Car) {
	wanted := make(map[string]struct{})
	for _, c := range cars {
		if c.TripID != "" {
			wanted[c.TripID] = struct{}{}
		}
	}

	a.mu.Lock()
	a.base = append([]models.Car(nil), cars...)

	for target, sub := range a.subs {
		if _, ok := wanted[target]; ok {
			continue
		}
		sub.Close()
		delete(a.subs, target)
		a.logger.Info().Str("tripId", target).Msg("trip no longer referenced, subscription closed")
	}

	// Snapshots of unreferenced targets are purged here too, not just with
	// their subscription: a terminally closed target has no subscription left
	// but its snapshot must not outlive the last car referencing it.
	for target := range a.latest {
		if _, ok := wanted[target]; !ok {
			delete(a.latest, target)
		}
	}

	for target := range wanted {
		if _, ok := a.subs[target]; ok {
			continue
		}
		sub := a.newSubscription(target)
		a.subs[target] = sub
		sub.Open()
		a.logger.Info().Str("tripId", target).Msg("trip subscription opened")
	}

	activeSubsGauge.Set(float64(len(a.subs)))
	snapshot, seq := a.mergeLocked()
	a.mu.Unlock()

	a.publish(snapshot, seq)
}

// Cars returns a copy of the last merged snapshot.
func (a *Aggregator) Cars() []models.Car {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Car(nil), a.merged...)
}

// Close tears down every active subscription.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for target, sub := range a.subs {
		sub.Close()
		delete(a.subs, target)
	}
	activeSubsGauge.Set(0)
}

// OnUpdate stores the snapshot as the latest for its target, last write wins,
// and triggers a merge pass. Events for targets that have been reconciled
// away are never applied.
func (a *Aggregator) OnUpdate(target string, trip models.Trip) {
	a.mu.Lock()
	if _, ok := a.subs[target]; !ok {
		a.mu.Unlock()
		return
	}
	a.latest[target] = TripEntry{Trip: trip, ReceivedAt: time.Now().UTC()}
	tripUpdatesCntr.Inc()
	snapshot, seq := a.mergeLocked()
	a.mu.Unlock()

	a.publish(snapshot, seq)
}

// OnError logs transport and protocol errors. None of them are fatal here;
// terminal closures arrive via OnClosed.
func (a *Aggregator) OnError(target string, err error) {
	subscriptionErrsCntr.Inc()
	a.logger.Warn().Err(err).Str("tripId", target).Msg("subscription error")
}

// OnClosed drops a terminally closed target from the active set. Its last
// snapshot is retained so the car keeps showing stale-but-present trip data,
// marked not live, until a reconcile pass finds no car referencing the trip.
func (a *Aggregator) OnClosed(target string) {
	a.mu.Lock()
	delete(a.subs, target)
	activeSubsGauge.Set(float64(len(a.subs)))
	snapshot, seq := a.mergeLocked()
	a.mu.Unlock()

	a.logger.Error().Str("tripId", target).Msg("trip subscription closed terminally, keeping last snapshot")
	a.publish(snapshot, seq)
}

func (a *Aggregator) mergeLocked() ([]models.Car, uint64) {
	live := make(map[string]struct{}, len(a.subs))
	for target := range a.subs {
		live[target] = struct{}{}
	}
	a.merged = MergeCars(a.base, a.latest, live)
	mergePassesCntr.Inc()
	a.seq++
	return a.merged, a.seq
}

// publish hands the snapshot to onSnapshot in merge order. a.mu is not held
// here, so two merge passes can race to this point; the sequence number taken
// under the merge lock decides, and a snapshot that lost to a newer one is
// dropped rather than delivered out of order.
func (a *Aggregator) publish(snapshot []models.Car, seq uint64) {
	if a.onSnapshot == nil {
		return
	}

	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	if seq <= a.publishedSeq {
		return
	}
	a.publishedSeq = seq
	a.onSnapshot(snapshot)
}

// Prometheus metrics
var activeSubsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fleet_active_subscriptions",
	Help: "Number of currently open trip subscriptions.",
})

var tripUpdatesCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_trip_updates_total",
	Help: "Total trip snapshots applied to the view model.",
})

var mergePassesCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_merge_passes_total",
	Help: "Total view model merge passes.",
})

var subscriptionErrsCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_subscription_errors_total",
	Help: "Total non-terminal subscription errors reported.",
})
