package graph

import (
	"strings"

	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/provisioning/capability/stub"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.graph",
	fx.Provide(NewFromConfig),
)

// NewFromConfig selects the capability driver. "stub" is meant for local runs
// without a tenant.
func NewFromConfig(cfg config.Config, templates *config.TemplateHolder, log *zap.Logger) (domain.Capability, error) {
	if strings.EqualFold(cfg.Graph.Driver, config.CapabilityDriverStub) {
		log.Warn("using stub provisioning capability")
		return stub.New(), nil
	}
	return New(ConfigFrom(cfg.Graph), log, WithTemplates(templates))
}
