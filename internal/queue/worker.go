package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/provisioning/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/provisioning/internal/observability/metrics"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval      = 5 * time.Second
	DefaultMaxDeliveries     = 10
	DefaultVisibilityTimeout = 5 * time.Minute

	batchSize = 50

	DispositionAck        = "ack"
	DispositionNack       = "nack"
	DispositionDeadLetter = "dead_letter"
)

var ErrUndecodable = errors.New("undecodable_message")

// Worker feeds queued requests to the orchestrator.
type Worker struct {
	queue     Queue
	processor domain.Processor
	log       *zap.Logger
	metrics   *obsmetrics.WorkerMetrics
}

func NewWorker(q Queue, processor domain.Processor, log *zap.Logger, metrics *obsmetrics.WorkerMetrics) *Worker {
	return &Worker{
		queue:     q,
		processor: processor,
		log:       log.Named("queue.worker"),
		metrics:   metrics,
	}
}

// ProcessNext handles at most one message. It reports whether a message was
// received.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	disposition, err := w.processNext(ctx)
	return disposition != "", err
}

// processNext returns the disposition of the handled message, or "" when the
// queue was empty.
func (w *Worker) processNext(ctx context.Context) (string, error) {
	d, err := w.queue.Receive(ctx)
	if err != nil {
		w.metrics.IncPollError(err)
		return "", err
	}
	if d == nil {
		return "", nil
	}
	ctx = d.Metadata.Restore(ctx)

	var req domain.ProvisioningRequest
	if err := decodeRequest(d.Body, &req); err != nil {
		w.log.Error("dead-lettering undecodable message",
			zap.String("message_id", d.ID),
			zap.Error(err),
		)
		w.metrics.IncDelivery(DispositionDeadLetter)
		return DispositionDeadLetter, w.queue.DeadLetter(ctx, d, err)
	}

	log := logger.WithProvisioning(logger.WithContext(ctx, w.log), req.ProvisioningID)
	if _, err := w.processor.Process(ctx, req); err != nil {
		log.Warn("provisioning job failed",
			zap.Int("delivery_count", d.DeliveryCount),
			zap.Error(err),
		)
		w.metrics.IncDelivery(DispositionNack)
		if nackErr := w.queue.Nack(ctx, d, err); nackErr != nil {
			return DispositionNack, fmt.Errorf("nack %s: %w", d.ID, nackErr)
		}
		return DispositionNack, nil
	}

	w.metrics.IncDelivery(DispositionAck)
	if err := w.queue.Ack(ctx, d); err != nil {
		return DispositionAck, fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return DispositionAck, nil
}

// ProcessPending drains up to one batch of messages. A nacked message ends the
// batch so its redelivery waits for the next poll.
func (w *Worker) ProcessPending(ctx context.Context) error {
	for i := 0; i < batchSize; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		disposition, err := w.processNext(ctx)
		if err != nil {
			return err
		}
		if disposition == "" || disposition == DispositionNack {
			return nil
		}
	}
	return nil
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("queue poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func decodeRequest(body []byte, req *domain.ProvisioningRequest) error {
	if len(body) == 0 {
		return ErrUndecodable
	}
	if err := json.Unmarshal(body, req); err != nil {
		return fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	if req.ProvisioningID == "" || req.User.Email == "" {
		return fmt.Errorf("%w: missing provisioning id or email", ErrUndecodable)
	}
	return nil
}
