package queue

import (
	"context"
	"encoding/json"
	"fmt"

	obsmetrics "github.com/smallbiznis/provisioning/internal/observability/metrics"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"github.com/smallbiznis/provisioning/pkg/telemetry/correlation"
)

// Publisher serializes provisioning requests onto the queue.
type Publisher struct {
	queue   Queue
	driver  string
	metrics *obsmetrics.Metrics
}

func NewPublisher(q Queue, driver string, metrics *obsmetrics.Metrics) *Publisher {
	return &Publisher{queue: q, driver: driver, metrics: metrics}
}

func (p *Publisher) Publish(ctx context.Context, req domain.ProvisioningRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode provisioning request: %w", err)
	}
	msg := Message{
		ProvisioningID: req.ProvisioningID,
		Body:           body,
		Metadata:       correlation.MetadataFromContext(ctx),
	}
	if err := p.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", req.ProvisioningID, err)
	}
	p.metrics.RecordEnqueued(ctx, p.driver)
	return nil
}

var _ domain.Publisher = (*Publisher)(nil)
