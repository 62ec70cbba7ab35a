package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyon-labs/edgelink/internal/bus"
)

// Redis implements bus.StreamStore on Redis Streams.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a stream store backed by the Redis instance at addr.
// The connection is lazy; reachability is the lifecycle manager's concern.
func NewRedis(addr, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	slog.Info("[RedisStore] Client configured", "addr", addr, "db", db)
	return &Redis{client: client}
}

// NewRedisWithClient wraps an existing client. Used by tests and by callers
// that manage their own connection options.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (r *Redis) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

func (r *Redis) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]bus.Entry, error) {
	if block <= 0 {
		block = -1 // no BLOCK argument: return immediately
	}
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", stream, group, err)
	}

	var entries []bus.Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, toEntry(s.Stream, msg))
		}
	}
	return entries, nil
}

func (r *Redis) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s/%s: %w", stream, group, err)
	}
	return nil
}

func (r *Redis) Pending(ctx context.Context, stream, group string, limit int64) ([]bus.PendingEntry, error) {
	res, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  limit,
	}).Result()
	if err != nil {
		if isMissingKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}

	pending := make([]bus.PendingEntry, 0, len(res))
	for _, p := range res {
		pending = append(pending, bus.PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return pending, nil
}

func (r *Redis) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]bus.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	msgs, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xclaim %s/%s: %w", stream, group, err)
	}

	entries := make([]bus.Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(stream, msg))
	}
	return entries, nil
}

func (r *Redis) Groups(ctx context.Context, stream string) ([]bus.GroupInfo, error) {
	res, err := r.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if isMissingKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}

	groups := make([]bus.GroupInfo, 0, len(res))
	for _, g := range res {
		groups = append(groups, bus.GroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return groups, nil
}

func (r *Redis) Info(ctx context.Context, stream string) (bus.StreamInfo, error) {
	res, err := r.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		if isMissingKey(err) {
			return bus.StreamInfo{Name: stream}, nil
		}
		return bus.StreamInfo{}, fmt.Errorf("xinfo stream %s: %w", stream, err)
	}
	return bus.StreamInfo{
		Name:   stream,
		Length: res.Length,
		LastID: res.LastGeneratedID,
	}, nil
}

func (r *Redis) Trim(ctx context.Context, stream string, maxLen int64) error {
	if err := r.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err(); err != nil {
		return fmt.Errorf("xtrim %s: %w", stream, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func toEntry(stream string, msg redis.XMessage) bus.Entry {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return bus.Entry{ID: msg.ID, Stream: stream, Fields: fields}
}

// isMissingKey matches the errors Redis returns for introspection on a key
// that does not exist yet ("ERR no such key", "NOGROUP No such key ...").
func isMissingKey(err error) bool {
	return err == redis.Nil || strings.Contains(strings.ToLower(err.Error()), "no such key")
}
