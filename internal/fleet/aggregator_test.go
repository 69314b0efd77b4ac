package fleet

import (
	"os"
	"sync"
	"testing"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	mu     sync.Mutex
	opens  int
	closes int
}

func (f *fakeSubscription) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
}

func (f *fakeSubscription) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeSubscription) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

type aggFixture struct {
	agg       *Aggregator
	subs      map[string]*fakeSubscription
	mu        sync.Mutex
	snapshots [][]models.Car
}

func newAggFixture(t *testing.T) *aggFixture {
	t.Helper()
	f := &aggFixture{subs: make(map[string]*fakeSubscription)}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.Disabled)
	agg, err := NewAggregator("https://api.cavgo.test/graphql", "token", logger, func(cars []models.Car) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.snapshots = append(f.snapshots, cars)
	})
	require.NoError(t, err)

	agg.newSubscription = func(target string) Subscription {
		sub := &fakeSubscription{}
		f.subs[target] = sub
		return sub
	}
	f.agg = agg
	return f
}

func (f *aggFixture) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

func TestNewAggregatorRequiresEndpoint(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewAggregator("", "token", logger, nil)
	require.Error(t, err)
}

func TestReconcileOpensOneSubscriptionPerUniqueTrip(t *testing.T) {
	f := newAggFixture(t)

	// two cars on the same trip, one idle
	f.agg.Reconcile([]models.Car{
		{ID: "car-1", TripID: "trip-a"},
		{ID: "car-2", TripID: "trip-a"},
		{ID: "car-3"},
	})

	require.Len(t, f.subs, 1)
	opens, closes := f.subs["trip-a"].counts()
	require.Equal(t, 1, opens)
	require.Equal(t, 0, closes)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newAggFixture(t)
	cars := []models.Car{{ID: "car-1", TripID: "trip-a"}}

	f.agg.Reconcile(cars)
	f.agg.Reconcile(cars)

	opens, closes := f.subs["trip-a"].counts()
	require.Equal(t, 1, opens)
	require.Equal(t, 0, closes)
}

func TestReconcileClosesRemovedTargets(t *testing.T) {
	f := newAggFixture(t)

	f.agg.Reconcile([]models.Car{{ID: "car-1", TripID: "trip-a"}})
	f.agg.OnUpdate("trip-a", models.Trip{ID: "trip-a"})

	// the car finished its trip
	f.agg.Reconcile([]models.Car{{ID: "car-1"}})

	_, closes := f.subs["trip-a"].counts()
	require.Equal(t, 1, closes)

	cars := f.agg.Cars()
	require.Len(t, cars, 1)
	require.Nil(t, cars[0].CurrentTrip)
	require.False(t, cars[0].Live)
}

func TestLateUpdateAfterRemovalIsIgnored(t *testing.T) {
	f := newAggFixture(t)

	f.agg.Reconcile([]models.Car{{ID: "car-1", TripID: "trip-a"}})
	f.agg.Reconcile([]models.Car{{ID: "car-1"}})

	before := f.snapshotCount()
	f.agg.OnUpdate("trip-a", models.Trip{ID: "trip-a"})

	// no merge pass was published for the stale event
	require.Equal(t, before, f.snapshotCount())
}

func TestOnUpdateMergesAndPublishes(t *testing.T) {
	f := newAggFixture(t)
	f.agg.Reconcile([]models.Car{{ID: "car-1", TripID: "trip-a"}})

	f.agg.OnUpdate("trip-a", models.Trip{
		ID:           "trip-a",
		Status:       "InProgress",
		Destinations: []models.Waypoint{{Address: "Kacyiru", Fare: 12, RemainingDistance: 2500}},
	})

	cars := f.agg.Cars()
	require.Len(t, cars, 1)
	require.True(t, cars[0].Live)
	require.NotNil(t, cars[0].CurrentTrip)
	require.Equal(t, "Kacyiru", cars[0].CurrentTrip.DestinationName)
	require.Equal(t, 2.5, cars[0].CurrentTrip.RemainingKM)
	require.Equal(t, 1, cars[0].CurrentTrip.BookedSeats)
	require.False(t, cars[0].LastUpdateAt.IsZero())

	f.mu.Lock()
	last := f.snapshots[len(f.snapshots)-1]
	f.mu.Unlock()
	require.Equal(t, cars, last)
}

func TestLastWriteWins(t *testing.T) {
	f := newAggFixture(t)
	f.agg.Reconcile([]models.Car{{ID: "car-1", TripID: "trip-a"}})

	f.agg.OnUpdate("trip-a", models.Trip{ID: "trip-a", Status: "Scheduled"})
	f.agg.OnUpdate("trip-a", models.Trip{ID: "trip-a", Status: "InProgress"})

	cars := f.agg.Cars()
	require.Equal(t, "InProgress", cars[0].CurrentTrip.Status)
}

func TestTerminalCloseKeepsStaleSnapshot(t *testing.T) {
	f := newAggFixture(t)
	f.agg.Reconcile([]models.Car{{ID: "car-1", TripID: "trip-a"}})
	f.agg.OnUpdate("trip-a", models.Trip{ID: "trip-a", Status: "InProgress"})

	// transport gave up after exhausting its retry budget
	f.agg.OnClosed("trip-a")

	cars := f.agg.Cars()
	require.Len(t, cars, 1)
	require.False(t, cars[0].Live)
	require.NotNil(t, cars[0].CurrentTrip)
	require.Equal(t, "InProgress", cars[0].CurrentTrip.Status)
}

func TestReconcilePurgesSnapshotsOfUnreferencedClosedTargets(t *testing.T) {
	f := newAggFixture(t)
	f.agg.Reconcile([]models.Car{{ID: "car-1", TripID: "trip-a"}})
	f.agg.OnUpdate("trip-a", models.Trip{ID: "trip-a", Status: "InProgress"})

	// transport went terminal; the snapshot stays while the car references it
	f.agg.OnClosed("trip-a")
	f.agg.Reconcile([]models.Car{{ID: "car-1", TripID: "trip-a"}})

	cars := f.agg.Cars()
	require.NotNil(t, cars[0].CurrentTrip)
	require.Contains(t, f.agg.latest, "trip-a")

	// once no car references the trip anymore the snapshot must go too,
	// even though its subscription already left the active set
	f.agg.Reconcile([]models.Car{{ID: "car-1"}})

	require.Empty(t, f.agg.latest)
	require.Nil(t, f.agg.Cars()[0].CurrentTrip)
}

func TestOutOfOrderPublishIsDropped(t *testing.T) {
	f := newAggFixture(t)
	newer := []models.Car{{ID: "newer"}}
	older := []models.Car{{ID: "older"}}

	f.agg.publish(newer, 2)
	f.agg.publish(older, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.snapshots, 1)
	require.Equal(t, newer, f.snapshots[0])
}

func TestCloseTearsDownAllSubscriptions(t *testing.T) {
	f := newAggFixture(t)
	f.agg.Reconcile([]models.Car{
		{ID: "car-1", TripID: "trip-a"},
		{ID: "car-2", TripID: "trip-b"},
	})

	f.agg.Close()

	for target, sub := range f.subs {
		_, closes := sub.counts()
		require.Equal(t, 1, closes, "target %s", target)
	}
}
