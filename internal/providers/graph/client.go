package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/smallbiznis/provisioning/internal/config"
	obstracing "github.com/smallbiznis/provisioning/internal/observability/tracing"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/zap"
)

// StatusError is a non-2xx Graph response. It is reported as a step failure.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%d %s for url: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Capability provisions guest access, a team with a private channel and a
// SharePoint list through Microsoft Graph.
type Capability struct {
	cfg        Config
	httpClient *http.Client
	waiter     Waiter
	templates  *config.TemplateHolder
	log        *zap.Logger
}

type Option func(*Capability)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Capability) { c.httpClient = obstracing.WrapHTTPClient(client, "graph") }
}

func WithWaiter(w Waiter) Option {
	return func(c *Capability) { c.waiter = w }
}

func WithTemplates(holder *config.TemplateHolder) Option {
	return func(c *Capability) { c.templates = holder }
}

func New(cfg Config, log *zap.Logger, opts ...Option) (*Capability, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Capability{
		cfg:        cfg,
		httpClient: obstracing.WrapHTTPClient(nil, "graph"),
		waiter:     SleepWaiter{},
		templates:  config.NewStaticTemplateHolder(config.DefaultTemplates()),
		log:        log.Named("providers.graph"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// send performs one Graph call. Transport errors and non-2xx statuses are
// returned as errors for the caller to fold into a step outcome.
func (c *Capability) send(ctx context.Context, cred domain.Credential, method, path string, payload, out any) (http.Header, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: graphErrorMessage(raw)}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.Header, nil
}

func graphErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return strings.TrimSpace(envelope.Error.Code + " " + envelope.Error.Message)
	}
	return ""
}

func userBinding(email string) string {
	return fmt.Sprintf("https://graph.microsoft.com/v1.0/users('%s')", email)
}

var _ domain.Capability = (*Capability)(nil)
