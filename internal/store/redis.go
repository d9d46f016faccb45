package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each code in a hash and the feedback log in a hash of
// JSON documents plus a list that preserves insertion order.
type RedisStore struct {
	cli    *redis.Client
	prefix string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "suture:"
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "suture:"
	}
	return &RedisStore{cli: c, prefix: prefix}, nil
}

func (s *RedisStore) Close() error { return s.cli.Close() }

func (s *RedisStore) codeKey(code string) string { return s.prefix + "code:" + code }
func (s *RedisStore) codeIndexKey() string       { return s.prefix + "codes" }
func (s *RedisStore) entriesKey() string         { return s.prefix + "feedback:entries" }
func (s *RedisStore) orderKey() string           { return s.prefix + "feedback:order" }

// KEYS: code hash, code index. ARGV: mode (set|add), uses, email, plan, now, code.
var luaUpsertCode = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("HSET", KEYS[1], "uses_left", ARGV[2], "email", ARGV[3], "plan", ARGV[4], "created_at", ARGV[5], "updated_at", ARGV[5])
	redis.call("SADD", KEYS[2], ARGV[6])
else
	if ARGV[1] == "add" then
		redis.call("HINCRBY", KEYS[1], "uses_left", ARGV[2])
	else
		redis.call("HSET", KEYS[1], "uses_left", ARGV[2])
	end
	if ARGV[3] ~= "" then
		redis.call("HSET", KEYS[1], "email", ARGV[3])
	end
	if ARGV[4] ~= "" then
		redis.call("HSET", KEYS[1], "plan", ARGV[4])
	end
	redis.call("HSET", KEYS[1], "updated_at", ARGV[5])
end
return redis.call("HGETALL", KEYS[1])`)

// Returns the new balance, -1 when exhausted, -2 when unknown.
var luaConsumeCode = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], "uses_left")
if not v then
	return -2
end
local n = tonumber(v)
if n <= 0 then
	return -1
end
redis.call("HSET", KEYS[1], "uses_left", n - 1, "updated_at", ARGV[1])
return n - 1`)

// Returns 0 when the id is taken.
var luaInsertFeedback = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1`)

func (s *RedisStore) GetCode(ctx context.Context, code string) (*AccessCode, error) {
	fields, err := s.cli.HGetAll(ctx, s.codeKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read access code: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	c, err := codeFromHash(code, fields)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RedisStore) PutCode(ctx context.Context, c AccessCode) (AccessCode, error) {
	return s.upsertCode(ctx, c, "set")
}

func (s *RedisStore) AddCodeUses(ctx context.Context, c AccessCode) (AccessCode, error) {
	return s.upsertCode(ctx, c, "add")
}

func (s *RedisStore) upsertCode(ctx context.Context, c AccessCode, mode string) (AccessCode, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := luaUpsertCode.Run(ctx, s.cli,
		[]string{s.codeKey(c.Code), s.codeIndexKey()},
		mode, c.UsesLeft, c.Email, c.Plan, now, c.Code,
	).Slice()
	if err != nil {
		return AccessCode{}, fmt.Errorf("failed to upsert access code: %w", err)
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return codeFromHash(c.Code, fields)
}

func (s *RedisStore) ConsumeCode(ctx context.Context, code string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := luaConsumeCode.Run(ctx, s.cli, []string{s.codeKey(code)}, now).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to consume access code: %w", err)
	}
	switch n {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, ErrExhausted
	}
	return n, nil
}

func (s *RedisStore) ListCodes(ctx context.Context) ([]AccessCode, error) {
	members, err := s.cli.SMembers(ctx, s.codeIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list access codes: %w", err)
	}
	m := make(map[string]AccessCode, len(members))
	for _, code := range members {
		c, err := s.GetCode(ctx, code)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m[code] = *c
	}
	return sortedCodes(m), nil
}

func codeFromHash(code string, fields map[string]string) (AccessCode, error) {
	uses, err := strconv.Atoi(fields["uses_left"])
	if err != nil {
		return AccessCode{}, fmt.Errorf("corrupt uses_left for code %s: %w", code, err)
	}
	c := AccessCode{
		Code:     code,
		UsesLeft: uses,
		Email:    fields["email"],
		Plan:     fields["plan"],
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return c, nil
}

func (s *RedisStore) InsertFeedback(ctx context.Context, e FeedbackEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback entry: %w", err)
	}
	ok, err := luaInsertFeedback.Run(ctx, s.cli, []string{s.entriesKey(), s.orderKey()}, e.ID, string(b)).Int()
	if err != nil {
		return fmt.Errorf("failed to insert feedback entry: %w", err)
	}
	if ok == 0 {
		return ErrConflict
	}
	return nil
}

func (s *RedisStore) GetFeedback(ctx context.Context, id string) (*FeedbackEntry, error) {
	raw, err := s.cli.HGet(ctx, s.entriesKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback entry: %w", err)
	}
	var e FeedbackEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feedback entry %s: %w", id, err)
	}
	return &e, nil
}

func (s *RedisStore) ListFeedback(ctx context.Context) ([]FeedbackEntry, error) {
	ids, err := s.cli.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback order: %w", err)
	}
	entries := []FeedbackEntry{}
	if len(ids) == 0 {
		return entries, nil
	}
	values, err := s.cli.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback entries: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e FeedbackEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feedback entry %s: %w", ids[i], err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
