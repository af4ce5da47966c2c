// Package wis2box uploads station records as wis2box CSV files to the
// wis2box incoming MinIO bucket.
package wis2box

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/dispatch"
	"github.com/smallbiznis/adl/internal/dispatch/domain"
	"go.uber.org/zap"
)

const Kind = "wis2box"

type Factory struct {
	log      *zap.Logger
	clock    clock.Clock
	newStore func(Config) (ObjectStore, error)
}

func NewFactory(log *zap.Logger, clk clock.Clock) *Factory {
	if clk == nil {
		clk = clock.System()
	}
	return &Factory{
		log:      log.Named("dispatch.wis2box"),
		clock:    clk,
		newStore: newMinioStore,
	}
}

func (f *Factory) Kind() string { return Kind }

func (f *Factory) New(ch domain.Channel) (dispatch.Sink, error) {
	cfg, err := parseConfig(ch.Config)
	if err != nil {
		return nil, err
	}
	store, err := f.newStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Sink{
		cfg:   cfg,
		store: store,
		clock: f.clock,
		log:   f.log.With(zap.Int64("channel_id", ch.ID), zap.String("dataset_id", cfg.DatasetID)),
	}, nil
}

type Sink struct {
	cfg   Config
	store ObjectStore
	clock clock.Clock
	log   *zap.Logger
}

func (s *Sink) Kind() string { return Kind }

// SendStationData uploads one CSV object per record in order and stops at
// the first failed upload.
func (s *Sink) SendStationData(ctx context.Context, target domain.StationTarget, payload []domain.StationRecord) (int, *time.Time, error) {
	if s.cfg.HourlyAggregate {
		return s.sendHourly(ctx, target, payload)
	}
	var last *time.Time
	for i, rec := range payload {
		if err := s.upload(ctx, target, rec); err != nil {
			return i, last, err
		}
		ts := rec.Timestamp
		last = &ts
	}
	return len(payload), last, nil
}

// sendHourly uploads only the latest record of each complete hour. The
// count covers every payload record of the uploaded hours, so the cursor
// moves past the records that were folded away.
func (s *Sink) sendHourly(ctx context.Context, target domain.StationTarget, payload []domain.StationRecord) (int, *time.Time, error) {
	currentHour := s.clock.Now().UTC().Truncate(time.Hour)
	covered := 0
	var last *time.Time
	for _, group := range groupByHour(payload) {
		if !group.hour.Before(currentHour) {
			s.log.Debug("skipping incomplete hour", zap.Time("hour", group.hour))
			break
		}
		rec := payload[group.end-1]
		if err := s.upload(ctx, target, rec); err != nil {
			return covered, last, err
		}
		covered = group.end
		ts := rec.Timestamp
		last = &ts
	}
	return covered, last, nil
}

func (s *Sink) upload(ctx context.Context, target domain.StationTarget, rec domain.StationRecord) error {
	body, shadowed, err := encodeRecord(target.Station, rec)
	if err != nil {
		return fmt.Errorf("encode wis2box csv: %w", err)
	}
	if len(shadowed) > 0 {
		s.log.Warn("channel values named like station metadata columns were dropped",
			zap.Strings("columns", shadowed),
			zap.Int64("station_id", target.Station.ID),
		)
	}
	key := ObjectName(s.cfg.DatasetID, rec)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()
	if err := s.store.Put(ctx, s.cfg.Bucket, key, bytes.NewReader(body), int64(len(body)), "text/csv"); err != nil {
		return err
	}
	s.log.Debug("uploaded wis2box object", zap.String("key", key))
	return nil
}

// ObjectName is stable per station and time step, so a resend overwrites.
func ObjectName(datasetID string, rec domain.StationRecord) string {
	name := slug.Make(rec.WigosID + "-" + rec.Timestamp.UTC().Format("20060102T150405Z"))
	return objectPrefix + datasetID + "/" + name + ".csv"
}

type hourGroup struct {
	hour time.Time
	end  int
}

// groupByHour splits an ascending payload into contiguous hourly runs.
func groupByHour(payload []domain.StationRecord) []hourGroup {
	var groups []hourGroup
	for i, rec := range payload {
		hour := rec.Timestamp.UTC().Truncate(time.Hour)
		if n := len(groups); n > 0 && groups[n-1].hour.Equal(hour) {
			groups[n-1].end = i + 1
			continue
		}
		groups = append(groups, hourGroup{hour: hour, end: i + 1})
	}
	return groups
}
