package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	obstracing "github.com/smallbiznis/provisioning/internal/observability/tracing"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"github.com/smallbiznis/provisioning/pkg/telemetry/correlation"
)

const DefaultTimeout = 30 * time.Second

var ErrUnexpectedStatus = errors.New("callback_unexpected_status")

type Config struct {
	Timeout time.Duration
}

// HTTPProvider posts the callback payload as JSON with a bounded timeout.
type HTTPProvider struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewHTTP(cfg Config, client *http.Client) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProvider{
		httpClient: obstracing.WrapHTTPClient(client, "callback"),
		timeout:    timeout,
	}
}

func (p *HTTPProvider) Notify(ctx context.Context, callbackURL string, payload domain.CallbackPayload) error {
	callbackURL = strings.TrimSpace(callbackURL)
	if callbackURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provisioning-ID", payload.ProvisioningID)
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		req.Header.Set(correlation.HeaderName, cid)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)
