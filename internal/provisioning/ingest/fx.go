package ingest

import "go.uber.org/fx"

var Module = fx.Module("provisioning.ingest",
	fx.Provide(NewGateway),
)
