package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/provisioning/internal/config"
)

const (
	DefaultAuthorityHost     = "https://login.microsoftonline.com"
	DefaultBaseURL           = "https://graph.microsoft.com/v1.0"
	DefaultInviteRedirectURL = "https://myapps.microsoft.com"
	DefaultScope             = "https://graph.microsoft.com/.default"
	DefaultTeamSettleDelay   = 5 * time.Second
)

// Config carries everything the adapter needs. It is always passed in
// explicitly; the adapter never reads the process environment.
type Config struct {
	TenantID          string        `validate:"required"`
	ClientID          string        `validate:"required"`
	ClientSecret      string        `validate:"required"`
	AuthorityHost     string        `validate:"required,url"`
	BaseURL           string        `validate:"required,url"`
	InviteRedirectURL string        `validate:"required,url"`
	TeamSettleDelay   time.Duration `validate:"gte=0"`
}

var validate = validator.New()

// ConfigFrom maps the application configuration onto the adapter config.
func ConfigFrom(cfg config.GraphConfig) Config {
	out := Config{
		TenantID:          strings.TrimSpace(cfg.TenantID),
		ClientID:          strings.TrimSpace(cfg.ClientID),
		ClientSecret:      strings.TrimSpace(cfg.ClientSecret),
		AuthorityHost:     strings.TrimRight(strings.TrimSpace(cfg.AuthorityHost), "/"),
		BaseURL:           strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		InviteRedirectURL: strings.TrimSpace(cfg.InviteRedirectURL),
		TeamSettleDelay:   cfg.TeamSettleDelay,
	}
	if out.AuthorityHost == "" {
		out.AuthorityHost = DefaultAuthorityHost
	}
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if out.InviteRedirectURL == "" {
		out.InviteRedirectURL = DefaultInviteRedirectURL
	}
	return out
}

// Validate reports the first missing or malformed field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("graph config: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("graph config: %w", err)
	}
	return nil
}

func (c Config) tokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.AuthorityHost, c.TenantID)
}
