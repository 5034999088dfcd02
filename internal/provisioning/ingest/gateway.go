package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/internal/config"
	obsmetrics "github.com/smallbiznis/provisioning/internal/observability/metrics"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	IDPrefix        = "PROV-"
	idHexLength     = 12
	acceptedMessage = "Provisioning request accepted and queued"
	internalError   = "Internal server error"
)

var errorMessages = map[error]string{
	domain.ErrInvalidJSON:   "Invalid JSON format",
	domain.ErrMissingFields: "Missing required fields: email and name",
	domain.ErrInvalidEmail:  "Invalid email format",
}

// PurchaseEvent is the inbound webhook body. Only Email and Name are required.
// Organization is a pointer so an absent key can be told from an empty one.
type PurchaseEvent struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	PurchaseID   string `json:"purchaseId"`
	ProductSKU   string `json:"productSku"`
	Organization *string `json:"organization"`
	CallbackURL  string `json:"callbackUrl"`
}

type AcceptedResponse struct {
	Status         string `json:"status"`
	ProvisioningID string `json:"provisioningId"`
	Message        string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Response is the status code and JSON body returned to the webhook caller.
type Response struct {
	Status int
	Body   any
}

type GatewayParams struct {
	fx.In

	Config    config.Config
	Publisher domain.Publisher
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Gateway struct {
	publisher  domain.Publisher
	clock      clock.Clock
	log        *zap.Logger
	metrics    *obsmetrics.Metrics
	defaultOrg string
}

func NewGateway(p GatewayParams) *Gateway {
	defaultOrg := strings.TrimSpace(p.Config.Provisioning.DefaultOrganization)
	if defaultOrg == "" {
		defaultOrg = config.DefaultOrganization
	}
	return &Gateway{
		publisher:  p.Publisher,
		clock:      p.Clock,
		log:        p.Log.Named("provisioning.ingest"),
		metrics:    p.Metrics,
		defaultOrg: defaultOrg,
	}
}

// Ingest validates body, enqueues the normalized request and returns the
// response for the caller. It never waits for the job to run.
func (g *Gateway) Ingest(ctx context.Context, body []byte) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("ingest panicked", zap.Any("panic", r))
			resp = Response{Status: http.StatusInternalServerError, Body: ErrorResponse{Error: internalError}}
		}
		g.metrics.RecordIngest(ctx, resp.Status)
	}()

	req, err := g.Normalize(body)
	if err != nil {
		if msg, ok := errorMessages[err]; ok {
			g.log.Debug("ingest rejected", zap.Error(err))
			return Response{Status: http.StatusBadRequest, Body: ErrorResponse{Error: msg}}
		}
		g.log.Error("ingest failed", zap.Error(err))
		return Response{Status: http.StatusInternalServerError, Body: ErrorResponse{Error: internalError}}
	}

	if err := g.publisher.Publish(ctx, req); err != nil {
		g.log.Error("enqueue provisioning request failed",
			zap.String("provisioning_id", req.ProvisioningID),
			zap.Error(err),
		)
		return Response{Status: http.StatusInternalServerError, Body: ErrorResponse{Error: internalError}}
	}

	g.log.Info("provisioning request accepted",
		zap.String("provisioning_id", req.ProvisioningID),
		zap.String("purchase_id", req.PurchaseID),
	)
	return Response{
		Status: http.StatusAccepted,
		Body: AcceptedResponse{
			Status:         "accepted",
			ProvisioningID: req.ProvisioningID,
			Message:        acceptedMessage,
		},
	}
}

// Normalize applies the ordered validation and builds the queued request.
func (g *Gateway) Normalize(body []byte) (domain.ProvisioningRequest, error) {
	var event PurchaseEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.ProvisioningRequest{}, domain.ErrInvalidJSON
	}

	email := strings.ToLower(strings.TrimSpace(event.Email))
	name := event.Name
	if email == "" || name == "" {
		return domain.ProvisioningRequest{}, domain.ErrMissingFields
	}
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return domain.ProvisioningRequest{}, domain.ErrInvalidEmail
	}

	organization := g.defaultOrg
	if event.Organization != nil {
		organization = *event.Organization
	}

	now := g.clock.Now().UTC()
	return domain.ProvisioningRequest{
		ProvisioningID: ProvisioningID(email, event.PurchaseID, now),
		PurchaseID:     event.PurchaseID,
		Timestamp:      now,
		User: domain.User{
			Email:       email,
			DisplayName: name,
			FirstName:   event.FirstName,
			LastName:    event.LastName,
		},
		Organization:      organization,
		ProductSKU:        event.ProductSKU,
		ProvisioningFlags: domain.AllFlags(),
		Status:            domain.StatusPending,
		CallbackURL:       strings.TrimSpace(event.CallbackURL),
	}, nil
}

// ProvisioningID derives the job id from the email, purchase id and the
// creation instant, so identical payloads at different instants differ.
func ProvisioningID(email, purchaseID string, at time.Time) string {
	seed := fmt.Sprintf("%s_%s_%s", email, purchaseID, at.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(seed))
	return IDPrefix + strings.ToUpper(hex.EncodeToString(sum[:])[:idHexLength])
}

// IsClientError reports whether err is one of the validation failures.
func IsClientError(err error) bool {
	for known := range errorMessages {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
