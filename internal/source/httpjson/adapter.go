// Package httpjson pulls station readings from a REST endpoint that returns
// a JSON array of flat objects.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/adl/internal/source"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	PluginID = "httpjson"

	defaultTimeField = "observation_time"
	defaultTimeout   = 30 * time.Second
	naiveLayout      = "2006-01-02T15:04:05"
	maxBodyBytes     = 32 << 20
)

var (
	ErrMissingURL     = errors.New("httpjson: url_template is required")
	ErrCircuitOpen    = errors.New("httpjson: circuit breaker open")
	ErrUnexpectedCode = errors.New("httpjson: unexpected status code")
)

// Config is read from the connection config, with the link config
// overriding station_id.
type Config struct {
	URLTemplate    string            `json:"url_template"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeField      string            `json:"time_field,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	RatePerSecond  float64           `json:"rate_per_second,omitempty"`
	Burst          int               `json:"burst,omitempty"`
	StationID      string            `json:"station_id,omitempty"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.TimeField) == "" {
		c.TimeField = defaultTimeField
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(defaultTimeout / time.Second)
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

type guard struct {
	version time.Time
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Adapter keeps one breaker and limiter per connection, rebuilt when the
// connection is edited.
type Adapter struct {
	client *http.Client
	log    *zap.Logger

	mu     sync.Mutex
	guards map[int64]*guard
}

func New(log *zap.Logger) *Adapter {
	return NewWithClient(&http.Client{Timeout: defaultTimeout}, log)
}

func NewWithClient(client *http.Client, log *zap.Logger) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		client: client,
		log:    log.Named("source.httpjson"),
		guards: make(map[int64]*guard),
	}
}

func (a *Adapter) ID() string    { return PluginID }
func (a *Adapter) Label() string { return "HTTP JSON" }

func (a *Adapter) StationData(ctx context.Context, link source.Link, start, end time.Time) (source.RecordIterator, error) {
	cfg, err := parseConfig(link)
	if err != nil {
		return nil, err
	}

	g := a.guardFor(link, cfg)
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := expandURL(cfg.URLTemplate, cfg.StationID, start, end)
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return a.fetch(callCtx, reqURL, cfg.Headers)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	body, _ := result.([]byte)

	records, err := decodeRecords(body, cfg.TimeField)
	if err != nil {
		return nil, err
	}
	a.log.Debug("fetched station data",
		zap.Int64("connection_id", link.ConnectionID),
		zap.String("station", cfg.StationID),
		zap.Int("records", len(records)),
	)
	return source.NewSliceIterator(records), nil
}

func (a *Adapter) fetch(ctx context.Context, reqURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedCode, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func (a *Adapter) guardFor(link source.Link, cfg Config) *guard {
	connectionID := link.ConnectionID
	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok := a.guards[connectionID]; ok {
		if g.version.Equal(link.ConnectionUpdatedAt) {
			return g
		}
		a.log.Info("connection changed, resetting rate limiter and circuit breaker",
			zap.Int64("connection_id", connectionID),
			zap.Time("updated_at", link.ConnectionUpdatedAt),
		)
	}
	g := &guard{
		version: link.ConnectionUpdatedAt,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("httpjson:%d", connectionID),
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				a.log.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
	a.guards[connectionID] = g
	return g
}

func parseConfig(link source.Link) (Config, error) {
	var cfg Config
	if len(link.ConnectionConfig) > 0 {
		if err := json.Unmarshal(link.ConnectionConfig, &cfg); err != nil {
			return Config{}, fmt.Errorf("httpjson: connection config: %w", err)
		}
	}
	if len(link.LinkConfig) > 0 {
		var override struct {
			StationID string `json:"station_id"`
		}
		if err := json.Unmarshal(link.LinkConfig, &override); err != nil {
			return Config{}, fmt.Errorf("httpjson: link config: %w", err)
		}
		if strings.TrimSpace(override.StationID) != "" {
			cfg.StationID = override.StationID
		}
	}
	if strings.TrimSpace(cfg.StationID) == "" {
		cfg.StationID = link.Station.StationID
	}
	if strings.TrimSpace(cfg.URLTemplate) == "" {
		return Config{}, ErrMissingURL
	}
	return cfg.withDefaults(), nil
}

// expandURL fills {station_id}, {start} and {end}. Window bounds are UTC
// RFC3339; {start_unix} and {end_unix} are also available.
func expandURL(tmpl, stationID string, start, end time.Time) string {
	return strings.NewReplacer(
		"{station_id}", url.PathEscape(stationID),
		"{start}", url.QueryEscape(start.UTC().Format(time.RFC3339)),
		"{end}", url.QueryEscape(end.UTC().Format(time.RFC3339)),
		"{start_unix}", strconv.FormatInt(start.Unix(), 10),
		"{end_unix}", strconv.FormatInt(end.Unix(), 10),
	).Replace(tmpl)
}

func decodeRecords(body []byte, timeField string) ([]source.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("httpjson: decode body: %w", err)
	}

	records := make([]source.Record, 0, len(rows))
	for _, row := range rows {
		rec := source.Record{Values: make(map[string]any, len(row))}
		for k, v := range row {
			if k == timeField {
				rec.ObservationTime = parseTime(v)
				continue
			}
			rec.Values[k] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseTime returns a time.Time for zoned timestamps, a NaiveTime for
// local ones, and the raw value otherwise.
func parseTime(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range []string{naiveLayout, "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return source.NaiveTime{Wall: t}
		}
	}
	return v
}
