package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
)

type RedisOpts struct {
	Addr, Password, Namespace string
	DB                        int
	Timeout                   time.Duration
	// TTL expires snapshots that are not saved again. Zero keeps them.
	TTL time.Duration
}

// RedisStore keeps snapshots as JSON strings under <namespace>:<syncKey>.
type RedisStore struct {
	rdb      *redis.Client
	nsPrefix string
	ttl      time.Duration
}

func NewRedisStore(o RedisOpts) *RedisStore {
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return &RedisStore{rdb: rdb, nsPrefix: firstNonEmpty(o.Namespace, "pdt:state"), ttl: o.TTL}
}

func (r *RedisStore) key(syncKey string) (string, error) {
	if strings.TrimSpace(syncKey) == "" {
		return "", errors.New("empty sync key")
	}
	return r.nsPrefix + ":" + syncKey, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.rdb.Close() }

func (r *RedisStore) Save(ctx context.Context, snap dtmodel.Snapshot) error {
	k, err := r.key(snap.SyncKey)
	if err != nil {
		return err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, k, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", k, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, syncKey string) (dtmodel.Snapshot, error) {
	var snap dtmodel.Snapshot
	k, err := r.key(syncKey)
	if err != nil {
		return snap, err
	}
	val, err := r.rdb.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		return snap, fmt.Errorf("redis load %s: %w", k, err)
	}
	if err := json.Unmarshal(val, &snap); err != nil {
		return snap, fmt.Errorf("redis load %s: %w", k, err)
	}
	return snap, nil
}

func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, r.nsPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.nsPrefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func firstNonEmpty(s, def string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return def
}
