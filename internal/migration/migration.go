package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	activitydomain "github.com/smallbiznis/adl/internal/activity/domain"
	aggdomain "github.com/smallbiznis/adl/internal/aggregation/domain"
	dispatchdomain "github.com/smallbiznis/adl/internal/dispatch/domain"
	obsdomain "github.com/smallbiznis/adl/internal/observation/domain"
	stationdomain "github.com/smallbiznis/adl/internal/station/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&stationdomain.Unit{},
		&stationdomain.DataParameter{},
		&stationdomain.Network{},
		&stationdomain.Station{},
		&stationdomain.NetworkConnection{},
		&stationdomain.StationLink{},
		&stationdomain.VariableMapping{},
		&obsdomain.Record{},
		&obsdomain.QCMessage{},
		&aggdomain.HourlyAggregate{},
		&aggdomain.DailyAggregate{},
		&dispatchdomain.Channel{},
		&dispatchdomain.ChannelParameterMapping{},
		&dispatchdomain.StationExclusion{},
		&dispatchdomain.StationChannelDispatchStatus{},
		&activitydomain.Entry{},
	}
}

// AutoMigrate creates the schema from the gorm models. Used for sqlite and
// mysql, where the postgres migrations do not apply.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
