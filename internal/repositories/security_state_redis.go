package repositories

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisFailurePrefix = "fail:"
	redisLockPrefix    = "lock:"
	redisIPPrefix      = "ip:"

	fieldCount   = "count"
	fieldLast    = "last"
	fieldUntil   = "until"
	fieldAttempt = "attempts"
)

// RedisStateStore shares security state between instances. Counters are incremented
// atomically and every key carries a TTL, so expired state disappears without a sweep.
type RedisStateStore struct {
	client     redis.UniversalClient
	prefix     string
	staleAfter time.Duration
}

// NewRedisStateStore creates a store over an existing client.
// staleAfter bounds how long an idle counter survives.
func NewRedisStateStore(client redis.UniversalClient, prefix string, staleAfter time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: prefix, staleAfter: staleAfter}
}

func (s *RedisStateStore) key(kind, id string) string {
	return s.prefix + kind + id
}

func (s *RedisStateStore) IncrementFailure(ctx context.Context, account string, now time.Time) (models.FailedAttemptRecord, error) {
	key := s.key(redisFailurePrefix, account)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, fieldCount, 1)
		pipe.HSet(ctx, key, fieldLast, now.UnixMilli())
		pipe.PExpire(ctx, key, s.staleAfter)
		return nil
	})
	if err != nil {
		return models.FailedAttemptRecord{}, fmt.Errorf("failed to increment failure counter: %w", err)
	}

	return models.FailedAttemptRecord{Count: int(incr.Val()), LastAttemptAt: now}, nil
}

func (s *RedisStateStore) GetFailure(ctx context.Context, account string) (*models.FailedAttemptRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(redisFailurePrefix, account)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failure counter: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	return &models.FailedAttemptRecord{
		Count:         atoi(fields[fieldCount]),
		LastAttemptAt: millis(fields[fieldLast]),
	}, nil
}

func (s *RedisStateStore) DeleteFailure(ctx context.Context, account string) error {
	if err := s.client.Del(ctx, s.key(redisFailurePrefix, account)).Err(); err != nil {
		return fmt.Errorf("failed to delete failure counter: %w", err)
	}
	return nil
}

func (s *RedisStateStore) PutLock(ctx context.Context, account string, lock models.AccountLockRecord) error {
	key := s.key(redisLockPrefix, account)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldUntil, lock.LockedUntil.UnixMilli(), fieldAttempt, lock.Attempts)
		pipe.PExpireAt(ctx, key, lock.LockedUntil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store account lock: %w", err)
	}
	return nil
}

func (s *RedisStateStore) GetLock(ctx context.Context, account string) (*models.AccountLockRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(redisLockPrefix, account)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read account lock: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	return &models.AccountLockRecord{
		LockedUntil: millis(fields[fieldUntil]),
		Attempts:    atoi(fields[fieldAttempt]),
	}, nil
}

func (s *RedisStateStore) DeleteLock(ctx context.Context, account string) error {
	if err := s.client.Del(ctx, s.key(redisLockPrefix, account)).Err(); err != nil {
		return fmt.Errorf("failed to delete account lock: %w", err)
	}
	return nil
}

func (s *RedisStateStore) IncrementIPAttempt(ctx context.Context, ip string, now time.Time) (models.IPBlockRecord, error) {
	key := s.key(redisIPPrefix, ip)

	var incr *redis.IntCmd
	var until *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, fieldAttempt, 1)
		pipe.HSet(ctx, key, fieldLast, now.UnixMilli())
		pipe.PExpire(ctx, key, s.staleAfter)
		until = pipe.HGet(ctx, key, fieldUntil)
		return nil
	})
	// HGet on a missing field reports redis.Nil through the pipeline
	if err != nil && err != redis.Nil {
		return models.IPBlockRecord{}, fmt.Errorf("failed to increment ip counter: %w", err)
	}

	return models.IPBlockRecord{
		Attempts:      int(incr.Val()),
		LastAttemptAt: now,
		BlockedUntil:  millis(until.Val()),
	}, nil
}

func (s *RedisStateStore) BlockIP(ctx context.Context, ip string, until time.Time) error {
	key := s.key(redisIPPrefix, ip)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldUntil, until.UnixMilli())
		// Keep the record at least until the block ends
		pipe.PExpireAt(ctx, key, until.Add(s.staleAfter))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to block ip: %w", err)
	}
	return nil
}

func (s *RedisStateStore) GetIPRecord(ctx context.Context, ip string) (*models.IPBlockRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(redisIPPrefix, ip)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ip record: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	return &models.IPBlockRecord{
		Attempts:      atoi(fields[fieldAttempt]),
		LastAttemptAt: millis(fields[fieldLast]),
		BlockedUntil:  millis(fields[fieldUntil]),
	}, nil
}

func (s *RedisStateStore) DeleteIPRecord(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, s.key(redisIPPrefix, ip)).Err(); err != nil {
		return fmt.Errorf("failed to delete ip record: %w", err)
	}
	return nil
}

// Sweep only has to clear IP records whose block ended; TTLs handle the rest
func (s *RedisStateStore) Sweep(ctx context.Context, now time.Time, _ time.Duration) (models.SweepResult, error) {
	var result models.SweepResult

	iter := s.client.Scan(ctx, 0, s.key(redisIPPrefix, "*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.HGet(ctx, key, fieldUntil).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to read ip block: %w", err)
		}
		if until := millis(raw); !until.IsZero() && !now.Before(until) {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return result, fmt.Errorf("failed to delete expired ip block: %w", err)
			}
			result.ExpiredBlocks++
		}
	}
	if err := iter.Err(); err != nil {
		return result, fmt.Errorf("failed to scan ip records: %w", err)
	}

	return result, nil
}

func (s *RedisStateStore) Stats(ctx context.Context, now time.Time, tenantID string) (models.SecurityStats, error) {
	stats := models.SecurityStats{OrganizationID: tenantID}
	var err error

	accounts := "*"
	if tenantID != "" {
		accounts = escapeGlob(tenantKeyPrefix(tenantID)) + "*"
	}

	if stats.TrackedIdentities, err = s.countKeys(ctx, redisFailurePrefix+accounts, nil); err != nil {
		return stats, err
	}
	// Lock keys expire with the lock, so every key present is active
	if stats.LockedAccounts, err = s.countKeys(ctx, redisLockPrefix+accounts, nil); err != nil {
		return stats, err
	}

	blocked := func(key string) (bool, error) {
		raw, err := s.client.HGet(ctx, key, fieldUntil).Result()
		if err == redis.Nil {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return now.Before(millis(raw)), nil
	}
	if stats.TrackedIPs, err = s.countKeys(ctx, redisIPPrefix+"*", nil); err != nil {
		return stats, err
	}
	if stats.BlockedIPs, err = s.countKeys(ctx, redisIPPrefix+"*", blocked); err != nil {
		return stats, err
	}

	return stats, nil
}

// countKeys counts keys matching pattern (relative to the store prefix), optionally filtered by match
func (s *RedisStateStore) countKeys(ctx context.Context, pattern string, match func(string) (bool, error)) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		if match != nil {
			ok, err := match(iter.Val())
			if err != nil {
				return 0, fmt.Errorf("failed to inspect %s: %w", iter.Val(), err)
			}
			if !ok {
				continue
			}
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s keys: %w", pattern, err)
	}
	return count, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards
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

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// millis parses a unix-millisecond field. Missing or malformed values give the zero time.
func millis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
