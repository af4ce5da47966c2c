package ingestion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	activitydomain "github.com/smallbiznis/adl/internal/activity/domain"
	activityrepo "github.com/smallbiznis/adl/internal/activity/repository"
	activityservice "github.com/smallbiznis/adl/internal/activity/service"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/config"
	"github.com/smallbiznis/adl/internal/lock"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	obsrepo "github.com/smallbiznis/adl/internal/observation/repository"
	"github.com/smallbiznis/adl/internal/source"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	stationrepo "github.com/smallbiznis/adl/internal/station/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	testConnectionID = 3
	paramTemperature = 1
	paramHumidity    = 2
)

type fetchCall struct {
	station string
	start   time.Time
	end     time.Time
}

type stubAdapter struct {
	mu      sync.Mutex
	records map[string][]source.Record
	errs    map[string]error
	calls   []fetchCall
	saved   int
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{
		records: make(map[string][]source.Record),
		errs:    make(map[string]error),
	}
}

func (a *stubAdapter) ID() string    { return "stub" }
func (a *stubAdapter) Label() string { return "Stub" }

func (a *stubAdapter) StationData(_ context.Context, link source.Link, start, end time.Time) (source.RecordIterator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	code := link.Station.StationID
	a.calls = append(a.calls, fetchCall{station: code, start: start, end: end})
	if err := a.errs[code]; err != nil {
		return nil, err
	}
	return source.NewSliceIterator(a.records[code]), nil
}

func (a *stubAdapter) AfterSave(_ context.Context, _ source.Link, saved []obsdomain.Record, _ []obsdomain.QCMessage) error {
	a.mu.Lock()
	a.saved += len(saved)
	a.mu.Unlock()
	return nil
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type harness struct {
	db       *gorm.DB
	svc      *Service
	adapter  *stubAdapter
	locker   *lock.MemoryLocker
	clock    *clock.FakeClock
	activity activitydomain.Service
	obs      obsdomain.Repository
}

func newHarness(t *testing.T, opts ...func(*Params)) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&stationdomain.Network{},
		&stationdomain.Station{},
		&stationdomain.NetworkConnection{},
		&stationdomain.StationLink{},
		&stationdomain.DataParameter{},
		&stationdomain.VariableMapping{},
		&obsdomain.Record{},
		&obsdomain.QCMessage{},
		&activitydomain.Entry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 4, 30, 0, 0, time.UTC))
	locker := lock.NewMemoryLocker(clk)
	adapter := newStubAdapter()

	registry := source.NewRegistry()
	require.NoError(t, registry.Register(adapter))

	activity := activityservice.NewService(activityservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  activityrepo.Provide(),
		Clock: clk,
	})
	var obs obsdomain.Repository = obsrepo.Provide()

	params := Params{
		DB:  db,
		Log: zap.NewNop(),
		Cfg: config.Config{
			Lock:      config.LockConfig{StationTTL: 30 * time.Minute},
			Ingestion: config.IngestionConfig{AdapterTimeout: time.Minute, ChunkSize: 1000},
		},
		GenID:        node,
		Clock:        clk,
		Stations:     stationrepo.Provide(),
		Observations: obs,
		Activity:     activity,
		Sources:      registry,
		Locker:       locker,
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc := NewService(params)

	seedNetwork(t, db)
	return &harness{db: db, svc: svc, adapter: adapter, locker: locker, clock: clk, activity: activity, obs: obs}
}

func seedNetwork(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&stationdomain.Network{ID: 1, Name: "Java"}).Error)
	require.NoError(t, db.Create(&stationdomain.NetworkConnection{
		ID:               testConnectionID,
		Name:             "stub-connection",
		NetworkID:        1,
		PluginID:         "stub",
		Enabled:          true,
		IntervalMinutes:  15,
		StationsTimezone: "UTC",
		BatchSize:        1,
	}).Error)
	require.NoError(t, db.Create(&stationdomain.DataParameter{
		ID:         paramTemperature,
		Name:       "air_temperature",
		UnitSymbol: "degC",
		QCRules:    datatypes.JSON(`[{"type": "range_check", "config": {"min_value": -40, "max_value": 50}}]`),
	}).Error)
	require.NoError(t, db.Create(&stationdomain.DataParameter{
		ID:         paramHumidity,
		Name:       "relative_humidity",
		UnitSymbol: "%",
	}).Error)
}

// addStation links a Jakarta station to the test connection and maps
// temp_f and rh onto the seeded parameters.
func addStation(t *testing.T, db *gorm.DB, id int64, code string, withMappings bool) stationdomain.StationLink {
	t.Helper()
	tz := "Asia/Jakarta"
	require.NoError(t, db.Create(&stationdomain.Station{
		ID:             id,
		NetworkID:      1,
		StationID:      code,
		Name:           "Station " + code,
		Latitude:       -6.2,
		Longitude:      106.8,
		WSISeries:      0,
		WSIIssuer:      20000,
		WSIIssueNumber: 0,
		WSILocal:       code,
		Timezone:       &tz,
	}).Error)
	link := stationdomain.StationLink{
		ID:           id * 10,
		ConnectionID: testConnectionID,
		StationID:    id,
		Enabled:      true,
	}
	require.NoError(t, db.Create(&link).Error)
	if withMappings {
		require.NoError(t, db.Create(&stationdomain.VariableMapping{
			ID:                  id*100 + 1,
			StationLinkID:       link.ID,
			ParameterID:         paramTemperature,
			SourceParameterName: "temp_f",
			SourceParameterUnit: "degF",
		}).Error)
		require.NoError(t, db.Create(&stationdomain.VariableMapping{
			ID:                  id*100 + 2,
			StationLinkID:       link.ID,
			ParameterID:         paramHumidity,
			SourceParameterName: "rh",
			SourceParameterUnit: "%",
		}).Error)
	}
	return link
}

func (h *harness) activities(t *testing.T, linkID int64) []activitydomain.Entry {
	t.Helper()
	entries, err := h.activity.List(context.Background(), activitydomain.Filter{StationLinkID: linkID})
	require.NoError(t, err)
	return entries
}

func (h *harness) stored(t *testing.T, stationID int64) []obsdomain.Record {
	t.Helper()
	rows, err := h.obs.List(context.Background(), h.db, obsdomain.Query{StationID: stationID, ConnectionID: testConnectionID})
	require.NoError(t, err)
	return rows
}

// failingHistory serves everything from the embedded repository except QC
// history reads.
type failingHistory struct {
	obsdomain.Repository
	err error
}

func (f failingHistory) History(context.Context, *gorm.DB, int64, int64, int64, time.Time, int) ([]obsdomain.Record, error) {
	return nil, f.err
}
