package callback

import (
	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.callback",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) domain.Notifier {
	return NewHTTP(Config{Timeout: cfg.Provisioning.CallbackTimeout}, nil)
}
