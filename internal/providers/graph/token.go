package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrTokenRejected = errors.New("token_rejected")

func (c *Capability) tokenConfig() *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.tokenURL(),
		Scopes:       []string{DefaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// AcquireCredential runs the OAuth2 client-credentials grant against the
// tenant's token endpoint for the Graph default scope.
func (c *Capability) AcquireCredential(ctx context.Context) (domain.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.tokenConfig().Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			desc := strings.TrimSpace(retrieveErr.ErrorDescription)
			if desc == "" {
				desc = "Unknown error"
			}
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			c.log.Error("acquire graph token failed", zap.Int("status", status), zap.String("error", retrieveErr.ErrorCode))
			return domain.Credential{}, fmt.Errorf("%w: failed to get access token: %s", ErrTokenRejected, desc)
		}
		return domain.Credential{}, fmt.Errorf("request token: %w", err)
	}

	c.log.Debug("graph access token acquired")
	return domain.Credential{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry,
	}, nil
}
