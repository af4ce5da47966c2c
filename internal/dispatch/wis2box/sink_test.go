package wis2box

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/dispatch/domain"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type put struct {
	bucket string
	key    string
	body   string
}

type fakeStore struct {
	puts   []put
	failAt int
}

func (f *fakeStore) Put(_ context.Context, bucket, key string, data io.Reader, size int64, contentType string) error {
	if f.failAt > 0 && len(f.puts)+1 == f.failAt {
		return errors.New("connection reset")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if int64(len(body)) != size || contentType != "text/csv" {
		return errors.New("bad upload")
	}
	f.puts = append(f.puts, put{bucket: bucket, key: key, body: string(body)})
	return nil
}

var t0 = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func newTestSink(t *testing.T, store *fakeStore, cfg string, now time.Time) *Sink {
	t.Helper()
	f := NewFactory(zap.NewNop(), clock.NewFakeClock(now))
	f.newStore = func(Config) (ObjectStore, error) { return store, nil }
	s, err := f.New(domain.Channel{ID: 1, Kind: Kind, Config: []byte(cfg)})
	require.NoError(t, err)
	return s.(*Sink)
}

func target() domain.StationTarget {
	block := 96
	number := "745"
	height := 8.5
	return domain.StationTarget{Station: stationdomain.Station{
		ID:                    7,
		WSISeries:             0,
		WSIIssuer:             20000,
		WSIIssueNumber:        0,
		WSILocal:              "96745",
		WMOBlockNumber:        &block,
		WMOStationNumber:      &number,
		StationType:           "1",
		Latitude:              -6.18,
		Longitude:             106.83,
		StationHeightAboveMSL: &height,
	}}
}

func records(times ...time.Time) []domain.StationRecord {
	out := make([]domain.StationRecord, len(times))
	for i, ts := range times {
		out[i] = domain.StationRecord{
			StationID: 7,
			WigosID:   "0-20000-0-96745",
			Timestamp: ts,
			Values:    map[string]float64{"air_temperature": 300.15 + float64(i), "custom_field": 1},
		}
	}
	return out
}

func TestSendUploadsOneCSVPerRecord(t *testing.T) {
	store := &fakeStore{}
	s := newTestSink(t, store, `{"endpoint":"minio:9000","dataset_id":"urn:wmo:md:id:synop/"}`, t0.Add(24*time.Hour))

	n, last, err := s.SendStationData(context.Background(), target(), records(t0, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(time.Hour), *last)

	require.Len(t, store.puts, 2)
	assert.Equal(t, defaultBucket, store.puts[0].bucket)
	assert.Equal(t, "incoming/urn:wmo:md:id:synop/0-20000-0-96745-20250501t000000z.csv", store.puts[0].key)

	rows, err := csv.NewReader(strings.NewReader(store.puts[0].body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Header, rows[0])
	require.Len(t, rows[1], 44)

	row := make(map[string]string, len(Header))
	for i, col := range Header {
		row[col] = rows[1][i]
	}
	assert.Equal(t, "20000", row["wsi_issuer"])
	assert.Equal(t, "96", row["wmo_block_number"])
	assert.Equal(t, "2025", row["year"])
	assert.Equal(t, "5", row["month"])
	assert.Equal(t, "0", row["hour"])
	assert.Equal(t, "-6.18", row["latitude"])
	assert.Equal(t, "8.5", row["station_height_above_msl"])
	assert.Equal(t, "300.15", row["air_temperature"])
	assert.Equal(t, "", row["wind_speed"])
	assert.Equal(t, "", row["barometer_height_above_msl"])
}

func TestChannelValuesCannotOverwriteStationMetadata(t *testing.T) {
	rec := domain.StationRecord{
		StationID: 7,
		WigosID:   "0-20000-0-96745",
		Timestamp: t0,
		Values: map[string]float64{
			"air_temperature": 300.15,
			"wsi_series":      9,
			"latitude":        1.5,
			"hour":            23,
		},
	}

	body, shadowed, err := encodeRecord(target().Station, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"hour", "latitude", "wsi_series"}, shadowed)

	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	row := make(map[string]string, len(Header))
	for i, col := range Header {
		row[col] = rows[1][i]
	}
	assert.Equal(t, "0", row["wsi_series"])
	assert.Equal(t, "-6.18", row["latitude"])
	assert.Equal(t, "0", row["hour"])
	assert.Equal(t, "300.15", row["air_temperature"])
}

func TestSendStopsAtFirstFailure(t *testing.T) {
	store := &fakeStore{failAt: 3}
	s := newTestSink(t, store, `{"endpoint":"minio:9000","dataset_id":"ds"}`, t0.Add(24*time.Hour))

	n, last, err := s.SendStationData(context.Background(), target(),
		records(t0, t0.Add(time.Hour), t0.Add(2*time.Hour), t0.Add(3*time.Hour)))
	require.Error(t, err)
	assert.Equal(t, 2, n)
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(time.Hour), *last)
	assert.Len(t, store.puts, 2)
}

func TestHourlyAggregateSendsLatestPerCompleteHour(t *testing.T) {
	store := &fakeStore{}
	now := t0.Add(2*time.Hour + 20*time.Minute)
	s := newTestSink(t, store, `{"endpoint":"minio:9000","dataset_id":"ds","hourly_aggregate":true}`, now)

	payload := records(
		t0.Add(10*time.Minute),
		t0.Add(50*time.Minute),
		t0.Add(time.Hour+30*time.Minute),
		t0.Add(2*time.Hour+10*time.Minute),
	)
	n, last, err := s.SendStationData(context.Background(), target(), payload)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(time.Hour+30*time.Minute), *last)

	require.Len(t, store.puts, 2)
	assert.Contains(t, store.puts[0].key, "20250501t005000z")
	assert.Contains(t, store.puts[1].key, "20250501t013000z")
}

func TestParseConfig(t *testing.T) {
	_, err := parseConfig([]byte(`{"dataset_id":"ds"}`))
	assert.Error(t, err)
	_, err = parseConfig([]byte(`{"endpoint":"minio:9000"}`))
	assert.Error(t, err)
	_, err = parseConfig([]byte(`{`))
	assert.Error(t, err)

	cfg, err := parseConfig([]byte(`{"endpoint":" minio:9000 ","dataset_id":"ds","timeout_seconds":5}`))
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", cfg.Endpoint)
	assert.Equal(t, defaultBucket, cfg.Bucket)
	assert.Equal(t, 5*time.Second, cfg.timeout())
}
