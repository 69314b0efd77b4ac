package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/config"
	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/avast/retry-go/v4"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrBadRequest = errors.New("bad request")

// FleetAPI fetches the company's car list from the GraphQL HTTP endpoint.
// Each car optionally references its ongoing trip, which becomes the
// subscription target for the aggregator.
type FleetAPI interface {
	FetchCompanyCars(ctx context.Context) ([]models.Car, error)
}

type fleetAPIService struct {
	endpoint   string
	token      string
	httpClient *http.Client
	cache      *cache.Cache
	logger     zerolog.Logger
}

func NewFleetAPIService(logger zerolog.Logger, settings *config.Settings) FleetAPI {
	// short TTL: the fleet list changes slowly, the trip state does not come
	// from here
	c := cache.New(30*time.Second, time.Minute)

	return &fleetAPIService{
		endpoint:   settings.GraphQLEndpoint,
		token:      settings.APIToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      c,
		logger:     logger,
	}
}

const carsCacheKey = "companyCars"

func (f *fleetAPIService) FetchCompanyCars(ctx context.Context) ([]models.Car, error) {
	if cached, found := f.cache.Get(carsCacheKey); found {
		return cached.([]models.Car), nil
	}

	body, err := f.query(ctx, CompanyCarsQuery)
	if err != nil {
		return nil, err
	}

	var payload models.GraphQlData[models.FleetCars]
	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "failed to decode company cars response")
	}

	cars := make([]models.Car, 0, len(payload.Data.Cars))
	for _, fc := range payload.Data.Cars {
		car := models.Car{
			ID:       fc.ID,
			Plate:    fc.PlateNumber,
			Position: fc.Location,
		}
		if fc.OngoingTrip != nil {
			car.TripID = fc.OngoingTrip.ID
		}
		cars = append(cars, car)
	}

	f.cache.Set(carsCacheKey, cars, cache.DefaultExpiration)

	return cars, nil
}

func (f *fleetAPIService) query(ctx context.Context, graphqlQuery string) ([]byte, error) {
	payloadBytes, err := json.Marshal(models.GraphQLRequest{Query: graphqlQuery})
	if err != nil {
		return nil, err
	}

	var body []byte
	err = retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payloadBytes))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+f.token)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func(Body io.ReadCloser) {
			if err := Body.Close(); err != nil {
				f.logger.Err(err).Msg("Failed to close response body")
			}
		}(resp.Body)

		if resp.StatusCode == http.StatusBadRequest {
			return retry.Unrecoverable(ErrBadRequest)
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("unexpected status %d from graphql endpoint", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}, retry.Attempts(3), retry.Context(ctx))
	if err != nil {
		f.logger.Err(err).Msg("Failed to send POST request")
		return nil, err
	}

	return body, nil
}
