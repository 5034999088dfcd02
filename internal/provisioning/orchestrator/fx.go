package orchestrator

import (
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.orchestrator",
	fx.Provide(
		New,
		func(o *Orchestrator) domain.Processor { return o },
	),
)
