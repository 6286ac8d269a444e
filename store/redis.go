package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix prefixes every key written by a Redis backend.
const DefaultKeyPrefix = "oidcaccount:"

// Redis is a Backend keeping one hash per account, with one field per slot.
type Redis struct {
	c      redis.UniversalClient
	prefix string
}

var _ Backend = (*Redis)(nil)

// NewRedis creates a Redis backend using c.
//
// Supported options: WithKeyPrefix
func NewRedis(c redis.UniversalClient, opt ...Option) (*Redis, error) {
	const op = "store.NewRedis"
	if c == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, ErrNilParameter)
	}
	opts := getRedisOpts(opt...)
	return &Redis{c: c, prefix: opts.withKeyPrefix}, nil
}

// Get implements Backend.Get.
func (r *Redis) Get(ctx context.Context, account, slot string) ([]byte, error) {
	const op = "Redis.Get"
	b, err := r.c.HGet(ctx, r.key(account), slot).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// Put implements Backend.Put.
func (r *Redis) Put(ctx context.Context, account, slot string, value []byte) error {
	const op = "Redis.Put"
	if err := r.c.HSet(ctx, r.key(account), slot, value).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Backend.Delete.
func (r *Redis) Delete(ctx context.Context, account, slot string) error {
	const op = "Redis.Delete"
	if err := r.c.HDel(ctx, r.key(account), slot).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove implements Backend.Remove.
func (r *Redis) Remove(ctx context.Context, account string) error {
	const op = "Redis.Remove"
	if err := r.c.Del(ctx, r.key(account)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Accounts implements Backend.Accounts.
func (r *Redis) Accounts(ctx context.Context) ([]string, error) {
	const op = "Redis.Accounts"
	var accounts []string
	iter := r.c.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		accounts = append(accounts, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (r *Redis) key(account string) string {
	return r.prefix + account
}

type redisOptions struct {
	withKeyPrefix string
}

func redisDefaults() redisOptions {
	return redisOptions{
		withKeyPrefix: DefaultKeyPrefix,
	}
}

func getRedisOpts(opt ...Option) redisOptions {
	opts := redisDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
