// Package webhook posts a station's records to an HTTP endpoint as one JSON
// document.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/adl/internal/dispatch"
	"github.com/smallbiznis/adl/internal/dispatch/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	Kind = "webhook"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

var (
	ErrUnexpectedCode = errors.New("webhook: unexpected status code")
	ErrCircuitOpen    = errors.New("webhook: circuit breaker open")
)

type Config struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

func parseConfig(raw []byte) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("decode webhook config: %w", err)
		}
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return cfg, fmt.Errorf("webhook config: invalid url %q", cfg.URL)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = int(defaultTimeout / time.Second)
	}
	return cfg, nil
}

// Body is the JSON document posted for one station.
type Body struct {
	ChannelID int64                  `json:"channel_id"`
	StationID int64                  `json:"station_id"`
	WigosID   string                 `json:"wigos_id"`
	Records   []domain.StationRecord `json:"records"`
}

type Factory struct {
	log    *zap.Logger
	client *http.Client
}

func NewFactory(log *zap.Logger) *Factory {
	return NewFactoryWithClient(&http.Client{}, log)
}

func NewFactoryWithClient(client *http.Client, log *zap.Logger) *Factory {
	if client == nil {
		client = &http.Client{}
	}
	return &Factory{log: log.Named("dispatch.webhook"), client: client}
}

func (f *Factory) Kind() string { return Kind }

func (f *Factory) New(ch domain.Channel) (dispatch.Sink, error) {
	cfg, err := parseConfig(ch.Config)
	if err != nil {
		return nil, err
	}
	log := f.log.With(zap.Int64("channel_id", ch.ID))
	return &Sink{
		cfg:       cfg,
		client:    f.client,
		channelID: ch.ID,
		log:       log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("webhook:%d", ch.ID),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}, nil
}

type Sink struct {
	cfg       Config
	client    *http.Client
	channelID int64
	breaker   *gobreaker.CircuitBreaker
	log       *zap.Logger
}

func (s *Sink) Kind() string { return Kind }

// SendStationData posts the whole payload in one request; it is either
// fully delivered or not at all.
func (s *Sink) SendStationData(ctx context.Context, target domain.StationTarget, payload []domain.StationRecord) (int, *time.Time, error) {
	if len(payload) == 0 {
		return 0, nil, nil
	}
	body, err := json.Marshal(Body{
		ChannelID: s.channelID,
		StationID: target.Station.ID,
		WigosID:   target.Station.WigosID(),
		Records:   payload,
	})
	if err != nil {
		return 0, nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(callCtx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return 0, nil, err
	}
	last := payload[len(payload)-1].Timestamp
	return len(payload), &last, nil
}

func (s *Sink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ulid.Make().String())
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedCode, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
