package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings contains the application config
type Settings struct {
	Environment    string
	LogLevel       string
	Port           string
	MonitoringPort string

	// Cavgo platform - GraphQL endpoint used for both the HTTP fleet query and
	// the graphql-ws subscription endpoint (scheme rewritten http->ws).
	GraphQLEndpoint string
	APIToken        string // bearer token issued by the platform, consumed as-is

	// How often the company car list is re-fetched and reconciled against
	// the active subscription set.
	FleetRefreshInterval time.Duration

	// Reverse geocoding for address tooltips. Empty disables the endpoint.
	GeocodeEndpoint string

	// Kafka - optional sink streaming merged fleet snapshots downstream
	IsSnapshotProducerEnabled bool
	KafkaBrokers              string
	SnapshotTopic             string

	// Dashboard stream fan-out rate cap, broadcasts per second.
	BroadcastRateLimit float64
}

// Load reads settings from the environment, with .env support for local dev.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		Environment:     getenvDefault("ENVIRONMENT", "dev"),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		Port:            getenvDefault("PORT", "8080"),
		MonitoringPort:  getenvDefault("MONITORING_PORT", "8888"),
		GraphQLEndpoint: os.Getenv("GRAPHQL_ENDPOINT"),
		APIToken:        os.Getenv("API_TOKEN"),
		GeocodeEndpoint: os.Getenv("GEOCODE_ENDPOINT"),
		KafkaBrokers:    os.Getenv("KAFKA_BROKERS"),
		SnapshotTopic:   getenvDefault("SNAPSHOT_TOPIC", "fleet.snapshots"),
	}

	if v := os.Getenv("FLEET_REFRESH_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid FLEET_REFRESH_INTERVAL_SEC: %q", v)
		}
		s.FleetRefreshInterval = time.Duration(sec) * time.Second
	} else {
		s.FleetRefreshInterval = 30 * time.Second
	}

	if v := os.Getenv("BROADCAST_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid BROADCAST_RATE_LIMIT: %q", v)
		}
		s.BroadcastRateLimit = f
	} else {
		s.BroadcastRateLimit = 10
	}

	s.IsSnapshotProducerEnabled = parseBool(os.Getenv("IS_SNAPSHOT_PRODUCER_ENABLED")) && s.KafkaBrokers != ""

	return s, nil
}

func (s *Settings) IsProduction() bool {
	return s.Environment == "prod"
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}
