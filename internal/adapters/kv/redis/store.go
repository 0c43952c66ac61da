package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "accountctl:session:"
	scanBatch     = 100
)

type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Store keeps session records as Redis strings under a key prefix. Redis
// expires each key at the record's absolute expiry.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ ports.KeyValueStore = (*Store)(nil)

// Dial connects and pings the server.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return NewStore(client, opts.Prefix), nil
}

func NewStore(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("redis session %q: %w", key, domain.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("get redis session %q: %w", key, err)
	}

	return data, nil
}

// Put stores value. A non-positive ttl means the record is already expired,
// so the key is removed instead.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set redis session %q: %w", key, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete redis session %q: %w", key, err)
	}

	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan redis sessions: %w", err)
	}
	sort.Strings(keys)

	return keys, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
