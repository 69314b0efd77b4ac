package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/config"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var ErrGeocodingDisabled = errors.New("geocode endpoint is not configured")

// Geocoder resolves coordinates to a display address for map tooltips.
// Results live in a TTL cache keyed by coordinates rounded to 4 decimals, so
// nearby lookups share an entry and old entries get evicted instead of
// accumulating for the life of the process.
type Geocoder struct {
	endpoint   string
	httpClient *http.Client
	cache      *cache.Cache
	logger     zerolog.Logger
}

func NewGeocoder(logger zerolog.Logger, settings *config.Settings) *Geocoder {
	return &Geocoder{
		endpoint:   settings.GeocodeEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache.New(time.Hour, 2*time.Hour),
		logger:     logger,
	}
}

func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if g.endpoint == "" {
		return "", ErrGeocodingDisabled
	}

	key := fmt.Sprintf("%.4f,%.4f", lat, lng)
	if cached, found := g.cache.Get(key); found {
		return cached.(string), nil
	}

	u, err := url.Parse(g.endpoint)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse geocode endpoint")
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Err(err).Msg("Failed to send geocoding request")
		return "", err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			g.logger.Err(err).Msg("Failed to close response body")
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("unexpected status %d from geocode endpoint", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	address := gjson.GetBytes(body, "display_name").String()
	if address == "" {
		return "", errors.New("no address in geocoding response")
	}

	g.cache.Set(key, address, cache.DefaultExpiration)

	return address, nil
}
