package subscription

// TripSubscriptionQuery is the fixed subscription document started once per
// trip. Field names follow the platform schema, misspellings included.
const TripSubscriptionQuery = `subscription TripUpdates($tripId: ID!) {
	trip(id: $tripId) {
		id
		createdAt
		updatedAt
		totalDistance
		status
		origin {
			id
			addres
			lat
			lng
		}
		destinations {
			id
			addres
			lat
			lng
			index
			fare
			remainingDistance
			isPassede
			passedTime
		}
	}
}`
