package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/pkg/telemetry/correlation"
)

const (
	RedisQueueKey      = "provisioning:queue"
	RedisProcessingKey = "provisioning:processing"
	RedisDeadLetterKey = "provisioning:deadletter"
	RedisLeasesKey     = "provisioning:leases"
	redisReclaimLock   = "provisioning:reclaim"
)

// receive moves the oldest message into the processing list and records its
// claim time in the lease hash.
const redisReceiveScript = `
local raw = redis.call("LMOVE", KEYS[1], KEYS[2], "RIGHT", "LEFT")
if not raw then
  return false
end
redis.call("HSET", KEYS[3], raw, ARGV[1])
return raw
`

// settle removes a claimed message. When ARGV[2] is set it is pushed onto
// KEYS[3] (the queue for a retry, the dead-letter list otherwise).
const redisSettleScript = `
local removed = redis.call("LREM", KEYS[1], 1, ARGV[1])
if removed == 0 then
  return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
if ARGV[2] ~= "" then
  redis.call("LPUSH", KEYS[3], ARGV[2])
end
return removed
`

const redisUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// envelope is the JSON stored in the redis lists.
type envelope struct {
	ID             string               `json:"id"`
	ProvisioningID string               `json:"provisioning_id"`
	Body           json.RawMessage      `json:"body"`
	Metadata       correlation.Metadata `json:"metadata"`
	Attempts       int                  `json:"attempts"`
	LastError      string               `json:"last_error,omitempty"`
}

func encodeEnvelope(env envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

type RedisConfig struct {
	MaxDeliveries     int
	VisibilityTimeout time.Duration
}

// Redis is a Queue backed by redis lists.
type Redis struct {
	client  *redis.Client
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     RedisConfig
	receive *redis.Script
	settle  *redis.Script
	unlock  *redis.Script
}

func NewRedis(client *redis.Client, genID *snowflake.Node, clk clock.Clock, cfg RedisConfig) *Redis {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &Redis{
		client:  client,
		genID:   genID,
		clock:   clk,
		cfg:     cfg,
		receive: redis.NewScript(redisReceiveScript),
		settle:  redis.NewScript(redisSettleScript),
		unlock:  redis.NewScript(redisUnlockScript),
	}
}

func (r *Redis) Enqueue(ctx context.Context, msg Message) error {
	if len(msg.Body) == 0 {
		return ErrEmptyBody
	}
	raw, err := encodeEnvelope(envelope{
		ID:             r.genID.Generate().String(),
		ProvisioningID: msg.ProvisioningID,
		Body:           json.RawMessage(msg.Body),
		Metadata:       msg.Metadata,
	})
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, RedisQueueKey, raw).Err()
}

func (r *Redis) Receive(ctx context.Context) (*Delivery, error) {
	if err := r.reclaim(ctx); err != nil {
		return nil, err
	}

	now := strconv.FormatInt(r.clock.Now().UnixMilli(), 10)
	raw, err := r.receive.Run(ctx, r.client,
		[]string{RedisQueueKey, RedisProcessingKey, RedisLeasesKey}, now).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return deliveryFromRaw(raw), nil
}

func deliveryFromRaw(raw string) *Delivery {
	env, err := decodeEnvelope(raw)
	if err != nil {
		// keep the raw payload so the worker can still dead-letter it
		return &Delivery{DeliveryCount: 1, raw: raw}
	}
	return &Delivery{
		Message: Message{
			ID:             env.ID,
			ProvisioningID: env.ProvisioningID,
			Body:           []byte(env.Body),
			Metadata:       env.Metadata,
		},
		DeliveryCount: env.Attempts + 1,
		raw:           raw,
	}
}

func (r *Redis) Ack(ctx context.Context, d *Delivery) error {
	return r.settleRaw(ctx, d, "", "")
}

func (r *Redis) Nack(ctx context.Context, d *Delivery, cause error) error {
	if d != nil && d.DeliveryCount >= r.cfg.MaxDeliveries {
		return r.DeadLetter(ctx, d, cause)
	}
	next, err := r.redeliver(d, cause)
	if err != nil {
		return err
	}
	return r.settleRaw(ctx, d, next, RedisQueueKey)
}

func (r *Redis) DeadLetter(ctx context.Context, d *Delivery, cause error) error {
	next, err := r.redeliver(d, cause)
	if err != nil {
		return err
	}
	return r.settleRaw(ctx, d, next, RedisDeadLetterKey)
}

// redeliver builds the envelope for the next life of d.
func (r *Redis) redeliver(d *Delivery, cause error) (string, error) {
	if d == nil {
		return "", ErrNotClaimed
	}
	env, err := decodeEnvelope(d.raw)
	if err != nil {
		// undecodable payloads travel as-is
		return d.raw, nil
	}
	env.Attempts = d.DeliveryCount
	env.LastError = errorText(cause)
	return encodeEnvelope(env)
}

func (r *Redis) settleRaw(ctx context.Context, d *Delivery, next, target string) error {
	if d == nil || d.raw == "" {
		return ErrNotClaimed
	}
	removed, err := r.settle.Run(ctx, r.client,
		[]string{RedisProcessingKey, RedisLeasesKey, target}, d.raw, next).Int64()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotClaimed
	}
	return nil
}

// reclaim returns in-flight messages whose lease expired to the queue. Only
// one receiver reclaims at a time.
func (r *Redis) reclaim(ctx context.Context) error {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, redisReclaimLock, token, r.cfg.VisibilityTimeout).Result()
	if err != nil {
		return fmt.Errorf("reclaim lock: %w", err)
	}
	if !ok {
		return nil
	}
	defer r.unlock.Run(context.WithoutCancel(ctx), r.client, []string{redisReclaimLock}, token)

	leases, err := r.client.HGetAll(ctx, RedisLeasesKey).Result()
	if err != nil {
		return fmt.Errorf("read leases: %w", err)
	}
	cutoff := r.clock.Now().Add(-r.cfg.VisibilityTimeout).UnixMilli()
	for raw, claimed := range leases {
		claimedAt, err := strconv.ParseInt(claimed, 10, 64)
		if err == nil && claimedAt >= cutoff {
			continue
		}
		if err := r.Nack(ctx, deliveryFromRaw(raw), errors.New("visibility timeout expired")); err != nil && !errors.Is(err, ErrNotClaimed) {
			return err
		}
	}
	return nil
}

var _ Queue = (*Redis)(nil)
