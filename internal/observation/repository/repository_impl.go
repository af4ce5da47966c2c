package repository

import (
	"context"
	"errors"
	"time"

	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultChunkSize = 1000

var upsertConflict = clause.OnConflict{
	Columns: []clause.Column{
		{Name: "time"},
		{Name: "station_id"},
		{Name: "connection_id"},
		{Name: "parameter_id"},
	},
	DoUpdates: clause.AssignmentColumns([]string{
		"value",
		"is_daily",
		"qc_status",
		"qc_bits",
		"qc_version",
		"modified_at",
	}),
}

type repo struct{}

func Provide() obsdomain.Repository {
	return &repo{}
}

func (r *repo) UpsertBatch(ctx context.Context, db *gorm.DB, records []obsdomain.Record, chunkSize int) error {
	if len(records) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	for start := 0; start < len(records); start += chunkSize {
		end := min(start+chunkSize, len(records))
		chunk := records[start:end]
		if err := db.WithContext(ctx).Clauses(upsertConflict).Create(&chunk).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ResolveIDs(ctx context.Context, db *gorm.DB, stationID, connectionID int64, keys []obsdomain.Key) (map[obsdomain.Key]int64, error) {
	out := make(map[obsdomain.Key]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	wanted := make(map[obsdomain.Key]struct{}, len(keys))
	paramSet := make(map[int64]struct{})
	minNano, maxNano := keys[0].UnixNano, keys[0].UnixNano
	for _, k := range keys {
		wanted[k] = struct{}{}
		paramSet[k.ParameterID] = struct{}{}
		minNano = min(minNano, k.UnixNano)
		maxNano = max(maxNano, k.UnixNano)
	}
	minTime := time.Unix(0, minNano).UTC()
	maxTime := time.Unix(0, maxNano).UTC()
	params := make([]int64, 0, len(paramSet))
	for id := range paramSet {
		params = append(params, id)
	}

	var rows []obsdomain.Record
	err := db.WithContext(ctx).
		Select("id", "time", "parameter_id").
		Where("station_id = ? AND connection_id = ?", stationID, connectionID).
		Where("time >= ? AND time <= ?", minTime, maxTime).
		Where("parameter_id IN ?", params).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		key := row.Key()
		if _, ok := wanted[key]; ok {
			out[key] = row.ID
		}
	}
	return out, nil
}

func (r *repo) InsertQCMessages(ctx context.Context, db *gorm.DB, messages []obsdomain.QCMessage, chunkSize int) error {
	if len(messages) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return db.WithContext(ctx).CreateInBatches(&messages, chunkSize).Error
}

func (r *repo) LatestTime(ctx context.Context, db *gorm.DB, stationID, connectionID int64) (*time.Time, error) {
	return r.boundaryTime(ctx, db, stationID, connectionID, "time DESC")
}

func (r *repo) EarliestTime(ctx context.Context, db *gorm.DB, stationID, connectionID int64) (*time.Time, error) {
	return r.boundaryTime(ctx, db, stationID, connectionID, "time ASC")
}

func (r *repo) boundaryTime(ctx context.Context, db *gorm.DB, stationID, connectionID int64, order string) (*time.Time, error) {
	var row obsdomain.Record
	err := scope(db.WithContext(ctx), stationID, connectionID).
		Select("time").
		Order(order).
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := row.Time.UTC()
	return &t, nil
}

func (r *repo) History(ctx context.Context, db *gorm.DB, stationID, connectionID, parameterID int64, before time.Time, limit int) ([]obsdomain.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []obsdomain.Record
	err := db.WithContext(ctx).
		Where("station_id = ? AND connection_id = ? AND parameter_id = ?", stationID, connectionID, parameterID).
		Where("time < ?", before.UTC()).
		Order("time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, q obsdomain.Query) ([]obsdomain.Record, error) {
	query := scope(db.WithContext(ctx), q.StationID, q.ConnectionID)
	if len(q.ParameterIDs) > 0 {
		query = query.Where("parameter_id IN ?", q.ParameterIDs)
	}
	if q.After != nil {
		query = query.Where("time > ?", q.After.UTC())
	}
	if q.From != nil {
		query = query.Where("time >= ?", q.From.UTC())
	}
	if q.Before != nil {
		query = query.Where("time < ?", q.Before.UTC())
	}
	if q.IsDaily != nil {
		query = query.Where("is_daily = ?", *q.IsDaily)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []obsdomain.Record
	if err := query.Order("time ASC").Order("parameter_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListQCMessages(ctx context.Context, db *gorm.DB, obsRecordID int64) ([]obsdomain.QCMessage, error) {
	var messages []obsdomain.QCMessage
	err := db.WithContext(ctx).
		Where("obs_record_id = ?", obsRecordID).
		Order("check_type ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// scope filters by station and connection; a zero id matches any.
func scope(db *gorm.DB, stationID, connectionID int64) *gorm.DB {
	if stationID != 0 {
		db = db.Where("station_id = ?", stationID)
	}
	if connectionID != 0 {
		db = db.Where("connection_id = ?", connectionID)
	}
	return db
}
