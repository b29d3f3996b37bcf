package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "lockout:"

const redisDayLayout = "2006-01-02"

// RedisStore implements the ratelimiter.Store interface using Redis as the backend.
// It is suitable for distributed systems where multiple application instances need to share
// a common lockout state. It uses Lua scripts to ensure atomicity.
//
// Each record is a hash at <prefix><policy>:<principal>:<day>. Blocked principals of a day are
// also indexed in a set at <prefix>blocked:<policy>:<day> so ListBlocked does not scan.
// Keys expire Retention after their day started; Purge has nothing to do.
type RedisStore struct {
	client          redis.UniversalClient
	prefix          string
	incrementScript *redis.Script
	resetScript     *redis.Script
}

// NewRedis creates a new instance of RedisStore.
// It pre-compiles the Lua scripts once. An empty prefix selects DefaultRedisPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *RedisStore {
	// KEYS[1] record hash, KEYS[2] blocked set
	// ARGV now, max, block, label, policy, principal, day, expireAt
	const incrementLua = `
		local now = tonumber(ARGV[1])
		local max = tonumber(ARGV[2])
		local block = tonumber(ARGV[3])

		local f = redis.call("HMGET", KEYS[1], "count", "blocked", "until")
		local count = tonumber(f[1]) or 0
		local blocked = f[2] == "1"
		local untilMs = tonumber(f[3]) or 0

		if blocked and untilMs <= now then
			count = 0
			blocked = false
			untilMs = 0
		end

		count = count + 1
		if not (blocked and untilMs > now) and count >= max then
			blocked = true
			untilMs = now + block
			redis.call("SADD", KEYS[2], ARGV[6])
			redis.call("PEXPIREAT", KEYS[2], ARGV[8])
		end

		local b = 0
		if blocked then
			b = 1
		end
		redis.call("HSET", KEYS[1], "policy", ARGV[5], "principal", ARGV[6], "day", ARGV[7],
			"count", count, "last", now, "blocked", b, "until", untilMs)
		if ARGV[4] ~= "" then
			redis.call("HSET", KEYS[1], "label", ARGV[4])
		end
		redis.call("PEXPIREAT", KEYS[1], ARGV[8])

		local label = redis.call("HGET", KEYS[1], "label") or ""
		return {count, b, untilMs, label}
	`

	// KEYS[1] record hash, KEYS[2] blocked set; ARGV principal
	const resetLua = `
		if redis.call("EXISTS", KEYS[1]) == 1 then
			redis.call("HSET", KEYS[1], "count", 0, "blocked", 0, "until", 0)
		end
		redis.call("SREM", KEYS[2], ARGV[1])
		return 1
	`

	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{
		client:          client,
		prefix:          prefix,
		incrementScript: redis.NewScript(incrementLua),
		resetScript:     redis.NewScript(resetLua),
	}
}

func (s *RedisStore) recordKey(policy, principal string, day time.Time) string {
	return s.prefix + policy + ":" + principal + ":" + day.Format(redisDayLayout)
}

func (s *RedisStore) blockedKey(policy, dayStamp string) string {
	return s.prefix + "blocked:" + policy + ":" + dayStamp
}

func expireAt(day time.Time) int64 {
	return day.Add(Retention).UnixMilli()
}

// Find loads the record hash under key.
func (s *RedisStore) Find(ctx context.Context, key ratelimiter.Key) (*ratelimiter.AttemptRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.recordKey(key.Policy, key.Principal, key.Day)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis find: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	rec, err := parseRedisRecord(vals, key)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert writes every field of rec and keeps the blocked index in sync.
func (s *RedisStore) Upsert(ctx context.Context, rec ratelimiter.AttemptRecord) error {
	key := s.recordKey(rec.Policy, rec.Principal, rec.Day)
	setKey := s.blockedKey(rec.Policy, rec.Day.Format(redisDayLayout))
	exp := time.UnixMilli(expireAt(rec.Day))

	blocked := 0
	if rec.IsBlocked {
		blocked = 1
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"policy", rec.Policy,
			"principal", rec.Principal,
			"day", rec.Day.UnixMilli(),
			"count", rec.AttemptCount,
			"last", msOrZero(rec.LastAttempt),
			"blocked", blocked,
			"until", msOrZero(rec.BlockedUntil),
			"label", rec.Label,
		)
		pipe.PExpireAt(ctx, key, exp)
		if rec.IsBlocked {
			pipe.SAdd(ctx, setKey, rec.Principal)
			pipe.PExpireAt(ctx, setKey, exp)
		} else {
			pipe.SRem(ctx, setKey, rec.Principal)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert: %w", err)
	}
	return nil
}

// Increment executes the pre-compiled Lua script that applies one attempt.
func (s *RedisStore) Increment(ctx context.Context, key ratelimiter.Key, now time.Time, p ratelimiter.Policy, label string) (ratelimiter.AttemptRecord, error) {
	dayStamp := key.Day.Format(redisDayLayout)
	keys := []string{
		s.recordKey(key.Policy, key.Principal, key.Day),
		s.blockedKey(key.Policy, dayStamp),
	}
	args := []interface{}{
		now.UnixMilli(),
		p.MaxAttempts,
		p.BlockDuration.Milliseconds(),
		label,
		key.Policy,
		key.Principal,
		key.Day.UnixMilli(),
		expireAt(key.Day),
	}

	res, err := s.incrementScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return ratelimiter.AttemptRecord{}, fmt.Errorf("redis increment: %w", err)
	}
	if len(res) < 4 {
		return ratelimiter.AttemptRecord{}, fmt.Errorf("redis increment: unexpected reply %v", res)
	}

	count, _ := res[0].(int64)
	blocked, _ := res[1].(int64)
	until, _ := res[2].(int64)
	storedLabel, _ := res[3].(string)

	rec := ratelimiter.AttemptRecord{
		Policy:       key.Policy,
		Principal:    key.Principal,
		Day:          key.Day,
		AttemptCount: int(count),
		LastAttempt:  time.UnixMilli(now.UnixMilli()),
		IsBlocked:    blocked == 1,
		Label:        storedLabel,
	}
	if until > 0 {
		rec.BlockedUntil = time.UnixMilli(until)
	}
	return rec, nil
}

// ResetDay clears the record under key and drops it from the blocked index.
func (s *RedisStore) ResetDay(ctx context.Context, key ratelimiter.Key) error {
	return s.reset(ctx, key.Policy, key.Principal, key.Day.Format(redisDayLayout))
}

func (s *RedisStore) reset(ctx context.Context, policy, principal, dayStamp string) error {
	keys := []string{
		s.prefix + policy + ":" + principal + ":" + dayStamp,
		s.blockedKey(policy, dayStamp),
	}
	if err := s.resetScript.Run(ctx, s.client, keys, principal).Err(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	return nil
}

// BulkReset scans for every day bucket of principal under policy and resets each.
func (s *RedisStore) BulkReset(ctx context.Context, policy, principal string) error {
	pattern := s.prefix + escapeGlob(policy) + ":" + escapeGlob(principal) + ":????-??-??"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		dayStamp := key[strings.LastIndexByte(key, ':')+1:]
		if err := s.reset(ctx, policy, principal, dayStamp); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// ListBlocked reads the blocked index of day and returns the records still blocked at now.
func (s *RedisStore) ListBlocked(ctx context.Context, policy string, day, now time.Time) ([]ratelimiter.AttemptRecord, error) {
	members, err := s.client.SMembers(ctx, s.blockedKey(policy, day.Format(redisDayLayout))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list blocked: %w", err)
	}

	var out []ratelimiter.AttemptRecord
	for _, principal := range members {
		rec, err := s.Find(ctx, ratelimiter.Key{Policy: policy, Principal: principal, Day: day})
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.ActiveBlock(now) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// Purge is a no-op: Redis expires record keys on its own.
func (s *RedisStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func parseRedisRecord(vals map[string]string, key ratelimiter.Key) (ratelimiter.AttemptRecord, error) {
	rec := ratelimiter.AttemptRecord{
		Policy:    key.Policy,
		Principal: key.Principal,
		Day:       key.Day,
		IsBlocked: vals["blocked"] == "1",
		Label:     vals["label"],
	}

	var err error
	if rec.AttemptCount, err = strconv.Atoi(vals["count"]); err != nil {
		return rec, fmt.Errorf("redis record %s/%s: bad count %q", key.Policy, key.Principal, vals["count"])
	}
	if rec.LastAttempt, err = parseMillis(vals["last"]); err != nil {
		return rec, fmt.Errorf("redis record %s/%s: bad last attempt: %w", key.Policy, key.Principal, err)
	}
	if rec.BlockedUntil, err = parseMillis(vals["until"]); err != nil {
		return rec, fmt.Errorf("redis record %s/%s: bad blocked until: %w", key.Policy, key.Principal, err)
	}
	return rec, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func msOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// escapeGlob escapes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
