package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	"github.com/smallbiznis/adl/internal/qc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&obsdomain.Record{}, &obsdomain.QCMessage{}))
	return db
}

func record(id int64, at time.Time, parameterID int64, value float64) obsdomain.Record {
	return obsdomain.Record{
		ID:           id,
		Time:         at,
		StationID:    7,
		ConnectionID: 3,
		ParameterID:  parameterID,
		Value:        value,
		QCStatus:     qc.StatusPass,
		QCVersion:    obsdomain.CurrentQCVersion,
		CreatedAt:    at,
		ModifiedAt:   at,
	}
}

func TestUpsertBatchKeepsOneRowPerKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	r := Provide()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// 1. first pass, chunked smaller than the batch
	first := []obsdomain.Record{
		record(1, base, 11, 20.5),
		record(2, base.Add(10*time.Minute), 11, 21),
		record(3, base, 12, 80),
	}
	require.NoError(t, r.UpsertBatch(ctx, db, first, 2))

	// 2. second pass overwrites value and qc of an existing key
	again := record(99, base, 11, 25)
	again.QCStatus = qc.StatusSuspect
	again.QCBits = qc.BitStep
	require.NoError(t, r.UpsertBatch(ctx, db, []obsdomain.Record{again}, 0))

	var count int64
	require.NoError(t, db.Model(&obsdomain.Record{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	rows, err := r.List(ctx, db, obsdomain.Query{StationID: 7, ConnectionID: 3, ParameterIDs: []int64{11}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 25.0, rows[0].Value)
	assert.Equal(t, qc.StatusSuspect, rows[0].QCStatus)
	assert.Equal(t, qc.BitStep, rows[0].QCBits)
	// the id assigned on first insert survives the conflict update
	assert.Equal(t, int64(1), rows[0].ID)
}

func TestBoundaryTimesAndHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	r := Provide()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	latest, err := r.LatestTime(ctx, db, 7, 3)
	require.NoError(t, err)
	assert.Nil(t, latest)

	var batch []obsdomain.Record
	for i := 0; i < 5; i++ {
		batch = append(batch, record(int64(i+1), base.Add(time.Duration(i)*time.Hour), 11, float64(i)))
	}
	require.NoError(t, r.UpsertBatch(ctx, db, batch, 1000))

	latest, err = r.LatestTime(ctx, db, 7, 3)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(base.Add(4*time.Hour)))

	earliest, err := r.EarliestTime(ctx, db, 7, 3)
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.True(t, earliest.Equal(base))

	history, err := r.History(ctx, db, 7, 3, 11, base.Add(3*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2.0, history[0].Value)
	assert.Equal(t, 1.0, history[1].Value)

	none, err := r.History(ctx, db, 7, 3, 11, base.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolveIDsAndQCMessages(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	r := Provide()
	at := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

	require.NoError(t, r.UpsertBatch(ctx, db, []obsdomain.Record{
		record(501, at, 11, 1),
		record(502, at, 12, 2),
	}, 1000))

	ids, err := r.ResolveIDs(ctx, db, 7, 3, []obsdomain.Key{
		obsdomain.KeyOf(at, 11),
		obsdomain.KeyOf(at.In(time.FixedZone("EAT", 3*3600)), 12),
		obsdomain.KeyOf(at.Add(time.Hour), 11),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, int64(501), ids[obsdomain.KeyOf(at, 11)])
	assert.Equal(t, int64(502), ids[obsdomain.KeyOf(at, 12)])

	messages := []obsdomain.QCMessage{
		{ID: 1, ObsRecordID: 501, ObsTime: at, StationID: 7, ParameterID: 11, CheckType: qc.BitSpike, Message: "Spike Check: x", CreatedAt: at},
		{ID: 2, ObsRecordID: 501, ObsTime: at, StationID: 7, ParameterID: 11, CheckType: qc.BitRange, Message: "Range Check: x", CreatedAt: at},
	}
	require.NoError(t, r.InsertQCMessages(ctx, db, messages, 1))

	stored, err := r.ListQCMessages(ctx, db, 501)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, qc.BitRange, stored[0].CheckType)
}
