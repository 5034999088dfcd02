package callback

import (
	"context"

	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
)

// Provider delivers finished provisioning results to the purchase origin.
type Provider interface {
	Notify(ctx context.Context, callbackURL string, payload domain.CallbackPayload) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Notify(ctx context.Context, callbackURL string, payload domain.CallbackPayload) error {
	return nil
}
