package models

import "time"

type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type GraphQlData[T any] struct {
	Data T `json:"data"`
}

// TripData is the payload shape of one subscription data frame.
type TripData struct {
	Trip Trip `json:"trip"`
}

// Trip is a full snapshot of one trip's current state. The server always
// sends the complete trip, never a diff; each frame replaces the previous
// snapshot wholesale.
type Trip struct {
	ID            string     `json:"id"`
	CreatedAt     string     `json:"createdAt"`
	UpdatedAt     string     `json:"updatedAt"`
	TotalDistance float64    `json:"totalDistance"` // meters
	Status        string     `json:"status"`
	Origin        *Waypoint  `json:"origin"`
	Destinations  []Waypoint `json:"destinations"`
}

// Waypoint is an origin or destination point of a trip. The json tags follow
// the platform schema exactly, misspellings included (addres, isPassede).
type Waypoint struct {
	ID                string  `json:"id"`
	Address           string  `json:"addres"`
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	Index             int     `json:"index"`
	Fare              float64 `json:"fare"`
	RemainingDistance float64 `json:"remainingDistance"` // meters
	Passed            bool    `json:"isPassede"`
	PassedTime        string  `json:"passedTime"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Car is the externally visible view model for one fleet vehicle. Static
// fields come from the company fleet query; CurrentTrip is recomputed from
// the latest trip snapshot for the car's TripID, when one exists.
type Car struct {
	ID       string  `json:"id"`
	Plate    string  `json:"plate"`
	Position *LatLng `json:"position,omitempty"` // last known static position
	TripID   string  `json:"tripId,omitempty"`   // subscription target, empty when idle

	CurrentTrip *CurrentTrip `json:"currentTrip,omitempty"`

	// Live is true while the car's trip subscription is active. A car whose
	// subscription was torn down after exhausting its retry budget keeps its
	// last CurrentTrip but is marked not live.
	Live         bool      `json:"live"`
	LastUpdateAt time.Time `json:"lastUpdateAt,omitzero"`
}

// CurrentTrip holds the derived fields shown on the dashboard for a car's
// ongoing trip.
type CurrentTrip struct {
	ID              string       `json:"id"`
	Start           LatLng       `json:"start"`
	End             LatLng       `json:"end"`
	DestinationName string       `json:"destinationName"`
	History         [][2]float64 `json:"history"` // passed [lat,lng] points, origin first
	RemainingKM     float64      `json:"remainingKm"`
	TotalKM         float64      `json:"totalKm"`
	BookedSeats     int          `json:"bookedSeats"`
	TotalRevenue    float64      `json:"totalRevenue"`
	Status          string       `json:"status"`
	CreatedAt       string       `json:"createdAt"`
}

// Fleet query wire types.

type FleetCars struct {
	Cars []FleetCar `json:"companyCars"`
}

type FleetCar struct {
	ID          string   `json:"id"`
	PlateNumber string   `json:"plateNumber"`
	Location    *LatLng  `json:"location"`
	OngoingTrip *TripRef `json:"ongoingTrip"`
}

type TripRef struct {
	ID string `json:"id"`
}
