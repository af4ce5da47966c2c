// Package kafka publishes station records as JSON messages to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/smallbiznis/adl/internal/dispatch"
	"github.com/smallbiznis/adl/internal/dispatch/domain"
	"go.uber.org/zap"
)

const Kind = "kafka"

type Config struct {
	Brokers      []string `json:"brokers"`
	Topic        string   `json:"topic"`
	RequiredAcks int16    `json:"required_acks"`
	MaxRetries   int      `json:"max_retries"`
}

func parseConfig(raw []byte) (Config, error) {
	cfg := Config{RequiredAcks: int16(sarama.WaitForAll), MaxRetries: 3}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("decode kafka config: %w", err)
		}
	}
	brokers := cfg.Brokers[:0]
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Brokers = brokers
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("kafka config: brokers are required")
	}
	if cfg.Topic == "" {
		return cfg, fmt.Errorf("kafka config: topic is required")
	}
	return cfg, nil
}

// Message is the JSON value of every published record.
type Message struct {
	ChannelID int64 `json:"channel_id"`
	domain.StationRecord
}

type Factory struct {
	log         *zap.Logger
	newProducer func(Config) (sarama.SyncProducer, error)
}

func NewFactory(log *zap.Logger) *Factory {
	return &Factory{
		log:         log.Named("dispatch.kafka"),
		newProducer: newSyncProducer,
	}
}

func newSyncProducer(cfg Config) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	config.Producer.Retry.Max = cfg.MaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	return sarama.NewSyncProducer(cfg.Brokers, config)
}

func (f *Factory) Kind() string { return Kind }

func (f *Factory) New(ch domain.Channel) (dispatch.Sink, error) {
	cfg, err := parseConfig(ch.Config)
	if err != nil {
		return nil, err
	}
	producer, err := f.newProducer(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Sink{
		producer:  producer,
		topic:     cfg.Topic,
		channelID: ch.ID,
		log:       f.log.With(zap.Int64("channel_id", ch.ID), zap.String("topic", cfg.Topic)),
	}, nil
}

type Sink struct {
	producer  sarama.SyncProducer
	topic     string
	channelID int64
	log       *zap.Logger
}

func (s *Sink) Kind() string { return Kind }

// SendStationData publishes one message per record, keyed by WIGOS id so a
// station stays on one partition, and stops at the first failure.
func (s *Sink) SendStationData(ctx context.Context, target domain.StationTarget, payload []domain.StationRecord) (int, *time.Time, error) {
	var last *time.Time
	for i, rec := range payload {
		if err := ctx.Err(); err != nil {
			return i, last, err
		}
		data, err := json.Marshal(Message{ChannelID: s.channelID, StationRecord: rec})
		if err != nil {
			return i, last, err
		}
		msg := &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(rec.WigosID),
			Value: sarama.ByteEncoder(data),
		}
		if _, _, err := s.producer.SendMessage(msg); err != nil {
			s.log.Error("failed to produce message", zap.Int64("station_id", target.Station.ID), zap.Error(err))
			return i, last, err
		}
		ts := rec.Timestamp
		last = &ts
	}
	return len(payload), last, nil
}

func (s *Sink) Close() error {
	if s.producer == nil {
		return nil
	}
	return s.producer.Close()
}
