package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/migration"
	"github.com/smallbiznis/provisioning/internal/observability"
	"github.com/smallbiznis/provisioning/internal/provisioning/repository"
	"github.com/smallbiznis/provisioning/internal/queue"
	"github.com/smallbiznis/provisioning/internal/server"
	"github.com/smallbiznis/provisioning/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		queue.Module,
		repository.Module,

		// No worker: jobs run in apps/worker.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
