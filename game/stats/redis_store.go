package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wricardo/militia-relay/game/match"
)

const (
	DefaultKeyPrefix  = "militia:"
	DefaultMaxMatches = 500
)

// RedisStore implements Store on Redis. Player records are JSON strings,
// leaderboards are sorted sets and the match archive is a capped list.
// Every recorded match is also published on the feed channel.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxMatches int64
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	MaxMatches int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.MaxMatches), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, maxMatches int) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}
	return &RedisStore{client: client, prefix: prefix, maxMatches: int64(maxMatches)}
}

// FeedChannel is the pub/sub channel that receives every recorded match.
func (rs *RedisStore) FeedChannel() string { return rs.prefix + "matches:feed" }

func (rs *RedisStore) playerKey(id string) string { return rs.prefix + "player:" + id }
func (rs *RedisStore) boardKey(m Metric) string   { return rs.prefix + "leaderboard:" + string(m) }
func (rs *RedisStore) matchesKey() string         { return rs.prefix + "matches" }

// RecordMatch archives res and updates registered players optimistically
// with WATCH, retrying a few times on conflicting writes.
func (rs *RedisStore) RecordMatch(ctx context.Context, res *match.Result) error {
	if res == nil {
		return fmt.Errorf("result cannot be nil")
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}

	for _, line := range res.Players {
		if IsGuest(line.ID) {
			continue
		}
		if err := rs.updatePlayer(ctx, line, res); err != nil {
			return err
		}
	}

	pipe := rs.client.TxPipeline()
	pipe.LPush(ctx, rs.matchesKey(), payload)
	pipe.LTrim(ctx, rs.matchesKey(), 0, rs.maxMatches-1)
	pipe.Publish(ctx, rs.FeedChannel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to archive match: %w", err)
	}
	return nil
}

func (rs *RedisStore) updatePlayer(ctx context.Context, line match.PlayerResult, res *match.Result) error {
	key := rs.playerKey(line.ID)

	txf := func(tx *redis.Tx) error {
		prev, err := decodePlayer(tx.Get(ctx, key).Bytes())
		if err != nil && !errors.Is(err, ErrPlayerNotFound) {
			return err
		}
		next := Apply(prev, line, res)
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			for _, m := range []Metric{MetricExperience, MetricKills, MetricWins} {
				pipe.ZAdd(ctx, rs.boardKey(m), redis.Z{Score: float64(m.value(next)), Member: line.ID})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := rs.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to update player %s: %w", line.ID, err)
	}
	return fmt.Errorf("failed to update player %s: too many conflicts", line.ID)
}

// PlayerStats loads a player's career record.
func (rs *RedisStore) PlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	return decodePlayer(rs.client.Get(ctx, rs.playerKey(playerID)).Bytes())
}

// Leaderboard returns the top players by metric.
func (rs *RedisStore) Leaderboard(ctx context.Context, metric Metric, limit int) ([]*PlayerStats, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := rs.client.ZRevRange(ctx, rs.boardKey(metric), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	if len(ids) == 0 {
		return []*PlayerStats{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rs.playerKey(id)
	}
	values, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read players: %w", err)
	}

	return decodePlayers(values), nil
}

// RecentMatches returns the newest archived matches first.
func (rs *RedisStore) RecentMatches(ctx context.Context, limit int) ([]*match.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	raws, err := rs.client.LRange(ctx, rs.matchesKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}
	return decodeMatches(raws), nil
}

// Subscribe returns a subscription to the match feed channel.
func (rs *RedisStore) Subscribe(ctx context.Context) *redis.PubSub {
	return rs.client.Subscribe(ctx, rs.FeedChannel())
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func decodePlayer(data []byte, err error) (*PlayerStats, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read player: %w", err)
	}
	var s PlayerStats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode player: %w", err)
	}
	return &s, nil
}

// decodePlayers decodes an MGET reply, skipping missing or corrupt records.
func decodePlayers(values []any) []*PlayerStats {
	players := make([]*PlayerStats, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s PlayerStats
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		players = append(players, &s)
	}
	return players
}

// decodeMatches decodes archived matches, skipping corrupt entries.
func decodeMatches(raws []string) []*match.Result {
	results := make([]*match.Result, 0, len(raws))
	for _, raw := range raws {
		var res match.Result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			continue
		}
		results = append(results, &res)
	}
	return results
}
