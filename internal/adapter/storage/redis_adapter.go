package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

const maxUpdateRetries = 5

var claimCodesScript = redis.NewScript(`
local scan_key = KEYS[1]
local verify_key = KEYS[2]
local record_key = ARGV[1]

if redis.call('EXISTS', scan_key) == 1 or redis.call('EXISTS', verify_key) == 1 then
	return 0
end

redis.call('SET', scan_key, record_key)
redis.call('SET', verify_key, record_key)
return 1
`)

type RedisAdapter struct {
	client redis.UniversalClient
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisAdapter) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisAdapter) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.client.Keys(ctx, pattern).Result()
}

func (r *RedisAdapter) Scan(ctx context.Context, cursor uint64, pattern string, count int64) (uint64, []string, error) {
	keys, next, err := r.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return 0, nil, err
	}
	return next, keys, nil
}

func (r *RedisAdapter) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisAdapter) ClaimCodes(ctx context.Context, codes domain.LinkedCodes, recordKey string) (bool, error) {
	keys := []string{
		domain.ScanCodeKey(codes.ScanCode),
		domain.VerificationCodeKey(codes.VerificationCode),
	}

	result, err := claimCodesScript.Run(ctx, r.client, keys, recordKey).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

// Update retries fn when the key changes between read and write. A missing
// key yields domain.ErrRecordNotFound; exhausting retries yields
// domain.ErrOptimisticLock.
func (r *RedisAdapter) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrRecordNotFound
		}
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return domain.ErrOptimisticLock
}
