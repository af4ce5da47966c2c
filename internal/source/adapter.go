package source

import (
	"context"
	"encoding/json"
	"time"

	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
)

// Link is what an adapter sees of one station bound to a connection.
type Link struct {
	ConnectionID     int64
	StationLinkID    int64
	Station          stationdomain.Station
	Location         *time.Location
	ConnectionConfig json.RawMessage
	LinkConfig       json.RawMessage
	// ConnectionUpdatedAt changes whenever the connection config is edited.
	ConnectionUpdatedAt time.Time
}

// Record is one raw reading. ObservationTime should be a time.Time (zone
// aware) or a NaiveTime; any other value fails the record. Non-numeric
// values are skipped.
type Record struct {
	ObservationTime any
	Values          map[string]any
}

// NaiveTime is a wall-clock reading without a zone. Its location is ignored
// and the station location is applied on ingestion.
type NaiveTime struct {
	Wall time.Time
}

func Naive(year int, month time.Month, day, hour, min, sec int) NaiveTime {
	return NaiveTime{Wall: time.Date(year, month, day, hour, min, sec, 0, time.UTC)}
}

// In interprets the wall clock in loc.
func (n NaiveTime) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	w := n.Wall
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)
}

// RecordIterator yields records once and in order. Next returns ok=false
// at the end.
type RecordIterator interface {
	Next(ctx context.Context) (Record, bool, error)
	Close() error
}

type Adapter interface {
	ID() string
	Label() string
	// StationData fetches readings in [start, end).
	StationData(ctx context.Context, link Link, start, end time.Time) (RecordIterator, error)
}

// PostSaveHook is implemented by adapters that want to see what was stored.
type PostSaveHook interface {
	AfterSave(ctx context.Context, link Link, saved []obsdomain.Record, failures []obsdomain.QCMessage) error
}

type SliceIterator struct {
	records []Record
	pos     int
}

func NewSliceIterator(records []Record) *SliceIterator {
	return &SliceIterator{records: records}
}

func (it *SliceIterator) Next(ctx context.Context) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	if it.pos >= len(it.records) {
		return Record{}, false, nil
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, true, nil
}

func (it *SliceIterator) Close() error {
	it.records = nil
	return nil
}
