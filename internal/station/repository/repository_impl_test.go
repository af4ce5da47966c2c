package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	"github.com/smallbiznis/adl/internal/qc"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var created = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&stationdomain.DataParameter{}, &obsdomain.Record{}))
	require.NoError(t, db.Create(&stationdomain.DataParameter{
		ID:         1,
		Name:       "air_temperature",
		UnitSymbol: "degC",
		CreatedAt:  created,
		ModifiedAt: created,
	}).Error)
	return db
}

func findParameter(t *testing.T, db *gorm.DB, id int64) *stationdomain.DataParameter {
	t.Helper()
	param, err := Provide().FindParameter(context.Background(), db, id)
	require.NoError(t, err)
	require.NotNil(t, param)
	return param
}

func TestUpdateParameterUnitWhileUnreferenced(t *testing.T) {
	db := setupTestDB(t)
	now := created.Add(time.Hour)

	require.NoError(t, Provide().UpdateParameterUnit(context.Background(), db, 1, " K ", now))

	param := findParameter(t, db, 1)
	assert.Equal(t, "K", param.UnitSymbol)
	assert.True(t, param.ModifiedAt.Equal(now), "modified_at = %s", param.ModifiedAt)
}

func TestUpdateParameterUnitLockedOnceObserved(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&obsdomain.Record{
		Time:         created,
		StationID:    7,
		ConnectionID: 3,
		ParameterID:  1,
		ID:           100,
		Value:        21.5,
		QCStatus:     qc.StatusPass,
		QCVersion:    obsdomain.CurrentQCVersion,
		CreatedAt:    created,
		ModifiedAt:   created,
	}).Error)

	err := Provide().UpdateParameterUnit(context.Background(), db, 1, "K", created.Add(time.Hour))
	assert.ErrorIs(t, err, stationdomain.ErrParameterUnitLocked)

	param := findParameter(t, db, 1)
	assert.Equal(t, "degC", param.UnitSymbol)
	assert.True(t, param.ModifiedAt.Equal(created))

	// same unit is a no-op even when referenced
	assert.NoError(t, Provide().UpdateParameterUnit(context.Background(), db, 1, "degC", created.Add(time.Hour)))
}

func TestUpdateParameterUnitNotFound(t *testing.T) {
	db := setupTestDB(t)

	err := Provide().UpdateParameterUnit(context.Background(), db, 99, "K", created)
	assert.ErrorIs(t, err, stationdomain.ErrParameterNotFound)
}
