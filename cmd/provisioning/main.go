package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/metricspush"
	"github.com/smallbiznis/provisioning/internal/migration"
	"github.com/smallbiznis/provisioning/internal/observability"
	"github.com/smallbiznis/provisioning/internal/providers/callback"
	"github.com/smallbiznis/provisioning/internal/providers/graph"
	"github.com/smallbiznis/provisioning/internal/provisioning/orchestrator"
	"github.com/smallbiznis/provisioning/internal/provisioning/repository"
	"github.com/smallbiznis/provisioning/internal/queue"
	"github.com/smallbiznis/provisioning/internal/server"
	"github.com/smallbiznis/provisioning/pkg/db"
	"go.uber.org/fx"
)

// Ingest API and queue worker in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Pipeline
		queue.Module,
		repository.Module,
		graph.Module,
		callback.Module,
		orchestrator.Module,
		queue.WorkerModule,
		metricspush.Module,

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
