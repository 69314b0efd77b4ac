package fleet

import (
	"testing"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/stretchr/testify/require"
)

func liveSet(targets ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		s[t] = struct{}{}
	}
	return s
}

func TestMergeCarsDerivedFields(t *testing.T) {
	// given
	receivedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	trip := models.Trip{
		ID:            "trip-1",
		CreatedAt:     "2026-09-01T10:00:00Z",
		Status:        "InProgress",
		TotalDistance: 12345, // meters
		Origin:        &models.Waypoint{Lat: 1, Lng: 2},
		Destinations: []models.Waypoint{
			{Address: "Nyabugogo", Lat: 3, Lng: 4, Index: 2, Fare: 10, Passed: true},
			{Address: "", Lat: 5, Lng: 6, Index: 0, Fare: 0, RemainingDistance: 5000},
			{Address: "Huye", Lat: 7, Lng: 8, Index: 1, Fare: 25, RemainingDistance: 3000},
		},
	}
	base := []models.Car{{ID: "car-1", Plate: "RAD 123 A", TripID: "trip-1"}}
	latest := map[string]TripEntry{"trip-1": {Trip: trip, ReceivedAt: receivedAt}}

	// when
	merged := MergeCars(base, latest, liveSet("trip-1"))

	// then
	require.Len(t, merged, 1)
	car := merged[0]
	require.True(t, car.Live)
	require.Equal(t, receivedAt, car.LastUpdateAt)
	require.NotNil(t, car.CurrentTrip)

	ct := car.CurrentTrip
	require.Equal(t, "trip-1", ct.ID)
	// remaining km sums only unpassed destinations: (5000+3000)/1000
	require.Equal(t, 8.0, ct.RemainingKM)
	require.Equal(t, 12.3, ct.TotalKM)
	// history is origin first, then passed destinations in array order
	require.Equal(t, [][2]float64{{1, 2}, {3, 4}}, ct.History)
	// only fares > 0 count as booked seats
	require.Equal(t, 2, ct.BookedSeats)
	require.Equal(t, 35.0, ct.TotalRevenue)
	// the last destination by array order wins, regardless of index fields
	require.Equal(t, "Huye", ct.DestinationName)
	require.Equal(t, models.LatLng{Lat: 1, Lng: 2}, ct.Start)
	require.Equal(t, models.LatLng{Lat: 7, Lng: 8}, ct.End)
	require.Equal(t, "InProgress", ct.Status)
	require.Equal(t, "2026-09-01T10:00:00Z", ct.CreatedAt)
}

func TestMergeCarsRemainingDistanceRoundsToOneDecimal(t *testing.T) {
	trip := models.Trip{
		ID: "trip-1",
		Destinations: []models.Waypoint{
			{RemainingDistance: 1234},
			{RemainingDistance: 4321},
		},
	}
	base := []models.Car{{ID: "car-1", TripID: "trip-1"}}
	latest := map[string]TripEntry{"trip-1": {Trip: trip}}

	merged := MergeCars(base, latest, liveSet("trip-1"))

	require.Equal(t, 5.6, merged[0].CurrentTrip.RemainingKM)
}

func TestMergeCarsIsIdempotent(t *testing.T) {
	trip := models.Trip{
		ID:           "trip-1",
		Origin:       &models.Waypoint{Lat: 1, Lng: 1},
		Destinations: []models.Waypoint{{Address: "Kimironko", Lat: 2, Lng: 2, Fare: 5}},
	}
	base := []models.Car{{ID: "car-1", TripID: "trip-1"}}
	latest := map[string]TripEntry{"trip-1": {Trip: trip}}

	first := MergeCars(base, latest, liveSet("trip-1"))
	second := MergeCars(base, latest, liveSet("trip-1"))

	require.Equal(t, first, second)
}

func TestMergeCarsWithoutSnapshotPassesThroughUnchanged(t *testing.T) {
	pos := &models.LatLng{Lat: 9, Lng: 9}
	base := []models.Car{
		{ID: "idle", Plate: "RAD 001 A", Position: pos},
		{ID: "waiting", Plate: "RAD 002 B", TripID: "trip-nodata"},
	}

	merged := MergeCars(base, map[string]TripEntry{}, liveSet("trip-nodata"))

	require.Nil(t, merged[0].CurrentTrip)
	require.False(t, merged[0].Live)
	require.Equal(t, pos, merged[0].Position)

	// a car with an open subscription but no snapshot yet is live, tripless
	require.Nil(t, merged[1].CurrentTrip)
	require.True(t, merged[1].Live)
}

func TestMergeCarsStaleSnapshotNotLive(t *testing.T) {
	trip := models.Trip{ID: "trip-1", Destinations: []models.Waypoint{{Address: "Remera"}}}
	base := []models.Car{{ID: "car-1", TripID: "trip-1"}}
	latest := map[string]TripEntry{"trip-1": {Trip: trip}}

	// target dropped from the live set but the snapshot is retained
	merged := MergeCars(base, latest, liveSet())

	require.NotNil(t, merged[0].CurrentTrip)
	require.False(t, merged[0].Live)
}

func TestMergeCarsFallbacks(t *testing.T) {
	pos := &models.LatLng{Lat: -1.95, Lng: 30.06}
	trip := models.Trip{ID: "trip-1"} // no origin, no destinations
	base := []models.Car{{ID: "car-1", TripID: "trip-1", Position: pos}}
	latest := map[string]TripEntry{"trip-1": {Trip: trip}}

	merged := MergeCars(base, latest, liveSet("trip-1"))

	ct := merged[0].CurrentTrip
	require.Equal(t, DefaultDestinationName, ct.DestinationName)
	require.Equal(t, *pos, ct.Start)
	require.Equal(t, *pos, ct.End)
	require.Empty(t, ct.History)
	require.Zero(t, ct.RemainingKM)
	require.Zero(t, ct.BookedSeats)
}

func TestMergeCarsUnnamedLastDestinationUsesPlaceholder(t *testing.T) {
	trip := models.Trip{
		ID:           "trip-1",
		Destinations: []models.Waypoint{{Address: "Named", Lat: 1, Lng: 1}, {Address: "", Lat: 2, Lng: 2}},
	}
	base := []models.Car{{ID: "car-1", TripID: "trip-1"}}
	latest := map[string]TripEntry{"trip-1": {Trip: trip}}

	merged := MergeCars(base, latest, liveSet("trip-1"))

	ct := merged[0].CurrentTrip
	require.Equal(t, DefaultDestinationName, ct.DestinationName)
	require.Equal(t, models.LatLng{Lat: 2, Lng: 2}, ct.End)
}
