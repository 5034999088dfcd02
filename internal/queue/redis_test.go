package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, cfg RedisConfig) (*Redis, *miniredis.Miniredis, *clock.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	return NewRedis(client, node, clk, cfg), mr, clk
}

func listLen(t *testing.T, mr *miniredis.Miniredis, key string) int {
	t.Helper()
	if !mr.Exists(key) {
		return 0
	}
	items, err := mr.List(key)
	require.NoError(t, err)
	return len(items)
}

func TestRedis_ReceiveEmpty(t *testing.T) {
	q, _, _ := newTestRedis(t, RedisConfig{})

	d, err := q.Receive(context.Background())

	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRedis_EnqueueReceiveAck(t *testing.T) {
	q, mr, _ := newTestRedis(t, RedisConfig{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("PROV-000000000001")))
	require.NoError(t, q.Enqueue(ctx, testMessage("PROV-000000000002")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "PROV-000000000001", d.ProvisioningID)
	assert.Equal(t, 1, d.DeliveryCount)
	assert.Equal(t, "01J0000000000000000000CORR", d.Metadata.CorrelationID)
	assert.JSONEq(t, `{"provisioningId":"PROV-000000000001"}`, string(d.Body))
	assert.Equal(t, 1, listLen(t, mr, RedisProcessingKey))
	leases, err := mr.HKeys(RedisLeasesKey)
	require.NoError(t, err)
	assert.Len(t, leases, 1)

	require.NoError(t, q.Ack(ctx, d))
	assert.Equal(t, 0, listLen(t, mr, RedisProcessingKey))
	assert.False(t, mr.Exists(RedisLeasesKey))
	assert.ErrorIs(t, q.Ack(ctx, d), ErrNotClaimed)

	next, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "PROV-000000000002", next.ProvisioningID)
}

func TestRedis_NackRedeliversWithCount(t *testing.T) {
	q, mr, _ := newTestRedis(t, RedisConfig{})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testMessage("PROV-000000000001")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d, errors.New("graph unavailable")))
	assert.Equal(t, 1, listLen(t, mr, RedisQueueKey))
	assert.Equal(t, 0, listLen(t, mr, RedisProcessingKey))

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, d.ID, again.ID)
	assert.Equal(t, 2, again.DeliveryCount)

	env, err := decodeEnvelope(again.raw)
	require.NoError(t, err)
	assert.Equal(t, "graph unavailable", env.LastError)
}

func TestRedis_DeadLetterAfterMaxDeliveries(t *testing.T) {
	q, mr, _ := newTestRedis(t, RedisConfig{MaxDeliveries: 2})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testMessage("PROV-000000000001")))

	for i := 0; i < 2; i++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.NoError(t, q.Nack(ctx, d, errors.New("credential unavailable")))
	}

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)

	dead, err := mr.List(RedisDeadLetterKey)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	env, err := decodeEnvelope(dead[0])
	require.NoError(t, err)
	assert.Equal(t, "PROV-000000000001", env.ProvisioningID)
	assert.Equal(t, 2, env.Attempts)
	assert.Equal(t, "credential unavailable", env.LastError)
}

func TestRedis_ReclaimsExpiredLease(t *testing.T) {
	q, mr, clk := newTestRedis(t, RedisConfig{VisibilityTimeout: time.Minute})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testMessage("PROV-000000000001")))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	hidden, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	clk.Advance(2 * time.Minute)
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.DeliveryCount)
	assert.False(t, mr.Exists(redisReclaimLock))

	assert.ErrorIs(t, q.Ack(ctx, first), ErrNotClaimed)
	require.NoError(t, q.Ack(ctx, second))
	assert.Equal(t, 0, listLen(t, mr, RedisProcessingKey))
}

func TestRedis_EnqueueRejectsEmptyBody(t *testing.T) {
	q, _, _ := newTestRedis(t, RedisConfig{})

	err := q.Enqueue(context.Background(), Message{ProvisioningID: "PROV-000000000001"})

	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestRedisEnvelope_DeliveryCountFollowsAttempts(t *testing.T) {
	raw, err := encodeEnvelope(envelope{
		ID:             "42",
		ProvisioningID: "PROV-000000000001",
		Body:           json.RawMessage(`{"provisioningId":"PROV-000000000001"}`),
		Metadata:       correlation.Metadata{CorrelationID: "corr"},
		Attempts:       2,
	})
	require.NoError(t, err)

	d := deliveryFromRaw(raw)
	assert.Equal(t, "42", d.ID)
	assert.Equal(t, 3, d.DeliveryCount)
	assert.Equal(t, "corr", d.Metadata.CorrelationID)
	assert.JSONEq(t, `{"provisioningId":"PROV-000000000001"}`, string(d.Body))
}

func TestRedisEnvelope_RedeliverRecordsCause(t *testing.T) {
	r := NewRedis(nil, nil, nil, RedisConfig{})
	raw, err := encodeEnvelope(envelope{ID: "42", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	d := deliveryFromRaw(raw)

	next, err := r.redeliver(d, errors.New("timeout"))
	require.NoError(t, err)

	env, err := decodeEnvelope(next)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Attempts)
	assert.Equal(t, "timeout", env.LastError)
}

func TestRedisEnvelope_UndecodablePayloadIsKept(t *testing.T) {
	d := deliveryFromRaw("not json")
	assert.Empty(t, d.Body)

	r := NewRedis(nil, nil, nil, RedisConfig{})
	next, err := r.redeliver(d, errors.New("bad"))
	require.NoError(t, err)
	assert.Equal(t, "not json", next)
}
