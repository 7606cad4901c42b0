package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tullo/moderation/internal/models"
)

// Intake is a stream read by one consumer group, so every event is handled
// by exactly one instance. Notifications fan out to all instances over
// Pub/Sub.
const (
	StreamIntake         = "moderation:intake"
	GroupIntake          = "intake-bot"
	ChannelNotifications = "moderation:notifications"

	intakeMaxLen = 100000
)

type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Ping checks connectivity
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Intake events

// PublishFlagCreated queues a "flag created" event for asynchronous intake.
func (r *RedisClient) PublishFlagCreated(ctx context.Context, event models.FlagCreatedEvent) error {
	return r.enqueue(ctx, models.WSMessage{Event: models.EventFlagCreated, Payload: event})
}

// PublishSignalDetected queues an auto-detected signal for asynchronous intake.
func (r *RedisClient) PublishSignalDetected(ctx context.Context, event models.AutoSignalEvent) error {
	return r.enqueue(ctx, models.WSMessage{Event: models.EventSignalDetected, Payload: event})
}

// EnsureIntakeGroup creates the intake consumer group, and the stream with
// it, unless it already exists.
func (r *RedisClient) EnsureIntakeGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, StreamIntake, GroupIntake, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create intake group: %w", err)
	}
	return nil
}

// ReadIntake returns up to count entries not yet delivered to any consumer
// of the group, waiting at most block for new ones. The entries stay pending
// for consumer until acknowledged.
func (r *RedisClient) ReadIntake(ctx context.Context, consumer string, count int64, block time.Duration) ([]models.IntakeMessage, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupIntake,
		Consumer: consumer,
		Streams:  []string{StreamIntake, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read intake: %w", err)
	}

	var res []models.IntakeMessage
	for _, s := range streams {
		res = append(res, intakeMessages(s.Messages)...)
	}
	return res, nil
}

// ClaimStaleIntake moves entries left pending longer than minIdle, typically
// by a consumer that died before acknowledging, over to consumer.
func (r *RedisClient) ClaimStaleIntake(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]models.IntakeMessage, error) {
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamIntake,
		Group:    GroupIntake,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim stale intake: %w", err)
	}
	return intakeMessages(msgs), nil
}

// AckIntake marks entries as handled for the group.
func (r *RedisClient) AckIntake(ctx context.Context, ids ...string) error {
	if err := r.client.XAck(ctx, StreamIntake, GroupIntake, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack intake: %w", err)
	}
	return nil
}

func (r *RedisClient) enqueue(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamIntake,
		MaxLen: intakeMaxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to queue intake event: %w", err)
	}
	return nil
}

func intakeMessages(msgs []redis.XMessage) []models.IntakeMessage {
	res := make([]models.IntakeMessage, 0, len(msgs))
	for _, m := range msgs {
		data, _ := m.Values["data"].(string)
		res = append(res, models.IntakeMessage{ID: m.ID, Data: data})
	}
	return res
}

// Notifications

// PublishNotification publishes a stored notification for live delivery.
func (r *RedisClient) PublishNotification(ctx context.Context, n models.Notification) error {
	return r.publish(ctx, ChannelNotifications, models.NotificationPush{RecipientID: n.RecipientID, Notification: n})
}

// SubscribeToNotifications subscribes to live notification pushes
func (r *RedisClient) SubscribeToNotifications(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, ChannelNotifications)
}

func (r *RedisClient) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Locks

var ErrLockHeld = errors.New("lock held by another owner")

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLock takes a named lock for ttl. The returned token releases it.
// ErrLockHeld is returned when another owner has the lock.
func (r *RedisClient) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, "lock:"+name, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// ReleaseLock drops the lock only if token still owns it.
func (r *RedisClient) ReleaseLock(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{"lock:" + name}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

// GetClient returns the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// AllowAction implements a Redis-backed token-bucket limiter per key (subject+action).
// Returns true if the action is allowed, false if rate-limited.
func (r *RedisClient) AllowAction(ctx context.Context, subject uuid.UUID, action string, rate int, burst int) (bool, error) {
	key := fmt.Sprintf("rl:%s:%s", action, subject.String())
	// Lua script: manage tokens and last timestamp
	script := `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local vals = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(vals[1])
local last = tonumber(vals[2])
if tokens == nil then tokens = burst end
if last == nil then last = now end
local delta = math.max(0, now - last)
local new_tokens = math.min(burst, tokens + (delta * rate / 1000))
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
	redis.call('PEXPIRE', key, 60000)
	return 1
else
	redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
	redis.call('PEXPIRE', key, 60000)
	return 0
end
`

	now := time.Now().UnixNano() / int64(time.Millisecond)
	res, err := r.client.Eval(ctx, script, []string{key}, rate, burst, now).Result()
	if err != nil {
		return false, err
	}
	// Eval returns int64 (1 or 0)
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case int:
		return v == 1, nil
	default:
		return false, fmt.Errorf("unexpected result from rate limiter: %T %v", res, res)
	}
}
