package repository

import (
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.repository",
	fx.Provide(
		NewResultStore,
		func(s *ResultStore) domain.ResultStore { return s },
	),
)
