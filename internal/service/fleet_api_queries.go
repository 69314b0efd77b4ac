package service

const CompanyCarsQuery = `{
	companyCars {
		id
		plateNumber
		location {
			lat
			lng
		}
		ongoingTrip {
			id
		}
	}
}`
