package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/adl/internal/activity"
	"github.com/smallbiznis/adl/internal/aggregation"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/config"
	"github.com/smallbiznis/adl/internal/dispatch"
	"github.com/smallbiznis/adl/internal/dispatch/kafka"
	"github.com/smallbiznis/adl/internal/dispatch/webhook"
	"github.com/smallbiznis/adl/internal/dispatch/wis2box"
	"github.com/smallbiznis/adl/internal/ingestion"
	"github.com/smallbiznis/adl/internal/lock"
	"github.com/smallbiznis/adl/internal/migration"
	"github.com/smallbiznis/adl/internal/observability"
	"github.com/smallbiznis/adl/internal/observation"
	"github.com/smallbiznis/adl/internal/scheduler"
	"github.com/smallbiznis/adl/internal/server"
	"github.com/smallbiznis/adl/internal/source"
	"github.com/smallbiznis/adl/internal/source/httpjson"
	"github.com/smallbiznis/adl/internal/station"
	"github.com/smallbiznis/adl/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		// Stores
		station.Module,
		observation.Module,
		activity.Module,

		// Source adapters
		source.Module,
		httpjson.Module,

		// Pipelines
		ingestion.Module,
		aggregation.Module,
		dispatch.Module,
		wis2box.Module,
		kafka.Module,
		webhook.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
