package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
)

const (
	notificationsChannel = "notifications"
	allChatEvents        = "chat:*:events"
	restrictionTTL       = 10 * time.Minute
	subscriberBuffer     = 64
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

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Live chat events

func chatEventsChannel(chatID uuid.UUID) string {
	return fmt.Sprintf("chat:%s:events", chatID)
}

// Publish sends a message event to every subscriber of the chat, on any node.
func (r *RedisClient) Publish(ctx context.Context, chatID uuid.UUID, ev models.MessageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, chatEventsChannel(chatID), data).Err()
}

// Subscribe streams one chat's events until ctx is done.
func (r *RedisClient) Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan models.MessageEvent, error) {
	return r.stream(ctx, r.client.Subscribe(ctx, chatEventsChannel(chatID)))
}

// SubscribeAll streams the events of every chat until ctx is done.
func (r *RedisClient) SubscribeAll(ctx context.Context) (<-chan models.MessageEvent, error) {
	return r.stream(ctx, r.client.PSubscribe(ctx, allChatEvents))
}

func (r *RedisClient) stream(ctx context.Context, ps *redis.PubSub) (<-chan models.MessageEvent, error) {
	// wait for the subscription so no event published after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan models.MessageEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.MessageEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Errorf("dropping malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Notifications

func (r *RedisClient) PublishNotification(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, notificationsChannel, payload).Err()
}

func (r *RedisClient) SubscribeNotifications(ctx context.Context) (<-chan []byte, error) {
	ps := r.client.Subscribe(ctx, notificationsChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Restriction cache

func restrictionEpochKey(chatID uuid.UUID) string {
	return fmt.Sprintf("restr:epoch:%s", chatID)
}

func restrictionKey(chatID, userID uuid.UUID) string {
	return fmt.Sprintf("restr:%s:%s", chatID, userID)
}

type cachedRestriction struct {
	Epoch       int64              `json:"epoch"`
	Restriction models.Restriction `json:"restriction"`
}

// LoadRestriction returns the cached fold for a user, or nil on a miss,
// together with the chat's current epoch.
func (r *RedisClient) LoadRestriction(ctx context.Context, chatID, userID uuid.UUID) (*models.Restriction, int64, error) {
	vals, err := r.client.MGet(ctx, restrictionEpochKey(chatID), restrictionKey(chatID, userID)).Result()
	if err != nil {
		return nil, 0, err
	}
	var epoch int64
	if s, ok := vals[0].(string); ok {
		if epoch, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("bad restriction epoch %q: %w", s, err)
		}
	}
	s, ok := vals[1].(string)
	if !ok {
		return nil, epoch, nil
	}
	var cached cachedRestriction
	if err := json.Unmarshal([]byte(s), &cached); err != nil || cached.Epoch != epoch {
		return nil, epoch, nil
	}
	return &cached.Restriction, epoch, nil
}

var storeIfEpoch = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then current = '0' end
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// StoreRestriction caches a fold unless the chat was invalidated since the
// epoch was read.
func (r *RedisClient) StoreRestriction(ctx context.Context, res models.Restriction, epoch int64) error {
	data, err := json.Marshal(cachedRestriction{Epoch: epoch, Restriction: res})
	if err != nil {
		return err
	}
	keys := []string{restrictionEpochKey(res.ChatID), restrictionKey(res.ChatID, res.UserID)}
	return storeIfEpoch.Run(ctx, r.client, keys, strconv.FormatInt(epoch, 10), data, restrictionTTL.Milliseconds()).Err()
}

// InvalidateChat bumps the chat's epoch, orphaning every cached fold in it.
func (r *RedisClient) InvalidateChat(ctx context.Context, chatID uuid.UUID) error {
	return r.client.Incr(ctx, restrictionEpochKey(chatID)).Err()
}

// Rate limiting

var tokenBucket = redis.NewScript(`
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
local new_tokens = math.min(burst, tokens + (delta * rate / 60000))
local allowed = 0
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	allowed = 1
end
redis.call('HSET', key, 'tokens', new_tokens, 'last', now)
redis.call('PEXPIRE', key, 120000)
return allowed
`)

// AllowAction implements a Redis-backed token bucket per user and action,
// refilled at perMinute tokens a minute. Returns true if the action is allowed.
func (r *RedisClient) AllowAction(ctx context.Context, userID uuid.UUID, action string, perMinute, burst int) (bool, error) {
	key := fmt.Sprintf("rl:%s:%s", action, userID.String())
	now := time.Now().UnixMilli()
	res, err := tokenBucket.Run(ctx, r.client, []string{key}, perMinute, burst, now).Result()
	if err != nil {
		return false, err
	}
	// Eval returns int64 (1 or 0)
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	default:
		return false, fmt.Errorf("unexpected result from rate limiter: %T %v", res, res)
	}
}
