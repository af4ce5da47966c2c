package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() stationdomain.Repository {
	return &repo{}
}

func (r *repo) FindConnection(ctx context.Context, db *gorm.DB, id int64) (*stationdomain.NetworkConnection, error) {
	var conn stationdomain.NetworkConnection
	err := db.WithContext(ctx).Where("id = ?", id).Take(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *repo) ListConnections(ctx context.Context, db *gorm.DB, enabledOnly bool) ([]stationdomain.NetworkConnection, error) {
	var conns []stationdomain.NetworkConnection
	query := db.WithContext(ctx).Order("id ASC")
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	if err := query.Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *repo) ListLinks(ctx context.Context, db *gorm.DB, connectionID int64, enabledOnly bool) ([]stationdomain.StationLink, error) {
	var links []stationdomain.StationLink
	query := db.WithContext(ctx).
		Preload("Station").
		Where("connection_id = ?", connectionID).
		Order("id ASC")
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	if err := query.Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

func (r *repo) FindLink(ctx context.Context, db *gorm.DB, connectionID, stationID int64) (*stationdomain.StationLink, error) {
	var link stationdomain.StationLink
	err := db.WithContext(ctx).
		Preload("Station").
		Where("connection_id = ? AND station_id = ?", connectionID, stationID).
		Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *repo) ListMappings(ctx context.Context, db *gorm.DB, linkID int64) ([]stationdomain.VariableMapping, error) {
	var mappings []stationdomain.VariableMapping
	err := db.WithContext(ctx).
		Preload("Parameter").
		Where("station_link_id = ?", linkID).
		Order("id ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *repo) FindParameter(ctx context.Context, db *gorm.DB, id int64) (*stationdomain.DataParameter, error) {
	var param stationdomain.DataParameter
	err := db.WithContext(ctx).Where("id = ?", id).Take(&param).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &param, nil
}

func (r *repo) ListParameters(ctx context.Context, db *gorm.DB, ids []int64) ([]stationdomain.DataParameter, error) {
	var params []stationdomain.DataParameter
	query := db.WithContext(ctx).Order("id ASC")
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	if err := query.Find(&params).Error; err != nil {
		return nil, err
	}
	return params, nil
}

// UpdateParameterUnit changes a parameter's unit while nothing references it
// and stamps modified_at with now.
func (r *repo) UpdateParameterUnit(ctx context.Context, db *gorm.DB, id int64, unitSymbol string, now time.Time) error {
	unitSymbol = strings.TrimSpace(unitSymbol)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var param stationdomain.DataParameter
		if err := tx.Where("id = ?", id).Take(&param).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return stationdomain.ErrParameterNotFound
			}
			return err
		}
		if param.UnitSymbol == unitSymbol {
			return nil
		}

		var referenced int64
		err := tx.Raw(
			`SELECT COUNT(1) FROM (SELECT 1 FROM observations WHERE parameter_id = ? LIMIT 1) AS refs`,
			id,
		).Scan(&referenced).Error
		if err != nil {
			return err
		}
		if referenced > 0 {
			return stationdomain.ErrParameterUnitLocked
		}

		return tx.Exec(
			`UPDATE data_parameters SET unit = ?, modified_at = ? WHERE id = ?`,
			unitSymbol,
			now.UTC(),
			id,
		).Error
	})
}

func (r *repo) ListStations(ctx context.Context, db *gorm.DB, ids []int64) ([]stationdomain.Station, error) {
	var stations []stationdomain.Station
	query := db.WithContext(ctx).Order("id ASC")
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	if err := query.Find(&stations).Error; err != nil {
		return nil, err
	}
	return stations, nil
}
