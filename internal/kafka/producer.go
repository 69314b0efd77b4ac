package kafka

import (
	"encoding/json"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// SnapshotProducer streams merged fleet snapshots to a Kafka topic for
// downstream consumers (analytics, archival). Publishing is best effort: a
// failed send is logged and counted, never propagated to the merge path.
type SnapshotProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zerolog.Logger
}

func NewSnapshotProducer(logger *zerolog.Logger, brokerList []string, topic string) (*SnapshotProducer, error) {
	logger.Info().
		Strs("brokers", brokerList).
		Str("topic", topic).
		Msg("Setting up Sarama snapshot producer.")

	producer, err := sarama.NewSyncProducer(brokerList, getSaramaConfig())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Sarama producer")
		return nil, err
	}

	return &SnapshotProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}, nil
}

func getSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Net.DialTimeout = 10 * time.Second
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Version = sarama.V1_0_0_0
	return config
}

func (p *SnapshotProducer) PublishSnapshot(cars []models.Car) {
	payload, err := json.Marshal(cars)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to marshal fleet snapshot")
		return
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		failedSnapshotCntr.Inc()
		p.logger.Error().Err(err).Msg("Failed to publish fleet snapshot")
		return
	}

	publishedSnapshotCntr.Inc()
}

func (p *SnapshotProducer) Close() error {
	return p.producer.Close()
}

// Prometheus metrics
var publishedSnapshotCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_snapshots_published_total",
	Help: "Total fleet snapshots published to Kafka.",
})

var failedSnapshotCntr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleet_snapshots_failed_total",
	Help: "Total fleet snapshot publishes that failed.",
})
