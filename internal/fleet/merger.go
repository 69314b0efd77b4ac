package fleet

import (
	"math"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
)

// DefaultDestinationName is shown when a trip has no destination address yet.
const DefaultDestinationName = "Unknown destination"

// TripEntry is the latest snapshot held for one trip target.
type TripEntry struct {
	Trip       models.Trip
	ReceivedAt time.Time
}

// MergeCars combines each car's static fields with the latest trip snapshot
// for its target. It is a pure function of its inputs: every pass recomputes
// all derived fields from the complete snapshot, and cars whose target has no
// snapshot pass through unchanged. The returned slice holds fresh value
// copies; callers must not mutate them in place.
func MergeCars(base []models.Car, latest map[string]TripEntry, live map[string]struct{}) []models.Car {
	out := make([]models.Car, len(base))
	for i, car := range base {
		merged := car
		if car.TripID != "" {
			if entry, ok := latest[car.TripID]; ok {
				merged.CurrentTrip = buildCurrentTrip(car, entry.Trip)
				merged.LastUpdateAt = entry.ReceivedAt
			}
			_, merged.Live = live[car.TripID]
		}
		out[i] = merged
	}
	return out
}

func buildCurrentTrip(car models.Car, trip models.Trip) *models.CurrentTrip {
	var remaining, revenue float64
	seats := 0
	history := make([][2]float64, 0, len(trip.Destinations)+1)

	if trip.Origin != nil {
		history = append(history, [2]float64{trip.Origin.Lat, trip.Origin.Lng})
	}
	for _, d := range trip.Destinations {
		if d.Passed {
			history = append(history, [2]float64{d.Lat, d.Lng})
		} else {
			remaining += d.RemainingDistance
		}
		if d.Fare > 0 {
			seats++
		}
		revenue += d.Fare
	}

	ct := &models.CurrentTrip{
		ID:              trip.ID,
		DestinationName: DefaultDestinationName,
		History:         history,
		RemainingKM:     round1(remaining / 1000),
		TotalKM:         round1(trip.TotalDistance / 1000),
		BookedSeats:     seats,
		TotalRevenue:    revenue,
		Status:          trip.Status,
		CreatedAt:       trip.CreatedAt,
	}

	// The displayed destination is the last destination in array order, not
	// the one with the highest index field.
	if n := len(trip.Destinations); n > 0 {
		last := trip.Destinations[n-1]
		if last.Address != "" {
			ct.DestinationName = last.Address
		}
		ct.End = models.LatLng{Lat: last.Lat, Lng: last.Lng}
	} else if car.Position != nil {
		ct.End = *car.Position
	}

	if trip.Origin != nil {
		ct.Start = models.LatLng{Lat: trip.Origin.Lat, Lng: trip.Origin.Lng}
	} else if car.Position != nil {
		ct.Start = *car.Position
	}

	return ct
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
