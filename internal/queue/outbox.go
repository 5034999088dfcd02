package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/pkg/repository"
	"github.com/smallbiznis/provisioning/pkg/telemetry/correlation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MessageStatusPending    = "pending"
	MessageStatusProcessing = "processing"
	MessageStatusDone       = "done"
	MessageStatusDead       = "dead"
)

// OutboxMessage is a row of the provisioning_messages table.
type OutboxMessage struct {
	ID             snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	ProvisioningID string         `gorm:"type:varchar(32);not null;index"`
	Payload        datatypes.JSON `gorm:"not null"`
	CorrelationID  string         `gorm:"type:varchar(64)"`
	TraceID        string         `gorm:"type:varchar(32)"`
	SpanID         string         `gorm:"type:varchar(16)"`
	Status         string         `gorm:"type:varchar(16);not null;index:idx_provisioning_messages_claim,priority:1"`
	DeliveryCount  int            `gorm:"not null;default:0"`
	LeaseToken     string         `gorm:"type:varchar(64)"`
	ClaimedAt      *time.Time     `gorm:"index:idx_provisioning_messages_claim,priority:2"`
	LastError      string         `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (OutboxMessage) TableName() string { return "provisioning_messages" }

type OutboxConfig struct {
	MaxDeliveries     int
	VisibilityTimeout time.Duration
}

// Outbox is a Queue backed by a relational table. Receivers claim a row by a
// conditional update on its lease token, so concurrent workers never share a
// delivery.
type Outbox struct {
	db    *gorm.DB
	repo  repository.Repository[OutboxMessage]
	genID *snowflake.Node
	clock clock.Clock
	cfg   OutboxConfig
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node, clk clock.Clock, cfg OutboxConfig) *Outbox {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &Outbox{
		db:    db,
		repo:  repository.ProvideStore[OutboxMessage](db),
		genID: genID,
		clock: clk,
		cfg:   cfg,
	}
}

func (o *Outbox) Enqueue(ctx context.Context, msg Message) error {
	if len(msg.Body) == 0 {
		return ErrEmptyBody
	}
	now := o.clock.Now().UTC()
	row := &OutboxMessage{
		ID:             o.genID.Generate(),
		ProvisioningID: msg.ProvisioningID,
		Payload:        datatypes.JSON(msg.Body),
		CorrelationID:  msg.Metadata.CorrelationID,
		TraceID:        msg.Metadata.TraceID,
		SpanID:         msg.Metadata.SpanID,
		Status:         MessageStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return o.repo.Create(ctx, row)
}

func (o *Outbox) Receive(ctx context.Context) (*Delivery, error) {
	now := o.clock.Now().UTC()
	staleBefore := now.Add(-o.cfg.VisibilityTimeout)

	var candidate OutboxMessage
	err := o.db.WithContext(ctx).
		Where("status = ?", MessageStatusPending).
		Or("status = ? AND claimed_at < ?", MessageStatusProcessing, staleBefore).
		Order("id ASC").
		Take(&candidate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select message: %w", err)
	}

	lease := uuid.NewString()
	res := o.db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("id = ? AND status = ? AND lease_token = ?", candidate.ID, candidate.Status, candidate.LeaseToken).
		Updates(map[string]any{
			"status":         MessageStatusProcessing,
			"lease_token":    lease,
			"claimed_at":     now,
			"delivery_count": gorm.Expr("delivery_count + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claim message %s: %w", candidate.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// another receiver won the claim
		return nil, nil
	}

	return &Delivery{
		Message: Message{
			ID:             candidate.ID.String(),
			ProvisioningID: candidate.ProvisioningID,
			Body:           []byte(candidate.Payload),
			Metadata:       correlationMetadata(candidate),
		},
		DeliveryCount: candidate.DeliveryCount + 1,
		lease:         lease,
	}, nil
}

func (o *Outbox) Ack(ctx context.Context, d *Delivery) error {
	return o.settle(ctx, d, map[string]any{"status": MessageStatusDone})
}

func (o *Outbox) Nack(ctx context.Context, d *Delivery, cause error) error {
	if d.DeliveryCount >= o.cfg.MaxDeliveries {
		return o.DeadLetter(ctx, d, cause)
	}
	return o.settle(ctx, d, map[string]any{
		"status":     MessageStatusPending,
		"claimed_at": nil,
		"last_error": errorText(cause),
	})
}

func (o *Outbox) DeadLetter(ctx context.Context, d *Delivery, cause error) error {
	return o.settle(ctx, d, map[string]any{
		"status":     MessageStatusDead,
		"last_error": errorText(cause),
	})
}

func (o *Outbox) settle(ctx context.Context, d *Delivery, updates map[string]any) error {
	if d == nil {
		return ErrNotClaimed
	}
	id, err := snowflake.ParseString(d.ID)
	if err != nil {
		return fmt.Errorf("parse message id: %w", err)
	}
	updates["lease_token"] = ""
	updates["updated_at"] = o.clock.Now().UTC()

	res := o.db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("id = ? AND status = ? AND lease_token = ?", id, MessageStatusProcessing, d.lease).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// Pending counts messages waiting for a receiver.
func (o *Outbox) Pending(ctx context.Context) (int64, error) {
	return o.repo.Count(ctx, &OutboxMessage{Status: MessageStatusPending})
}

func correlationMetadata(row OutboxMessage) correlation.Metadata {
	return correlation.Metadata{
		CorrelationID: row.CorrelationID,
		TraceID:       row.TraceID,
		SpanID:        row.SpanID,
	}
}

var _ Queue = (*Outbox)(nil)
