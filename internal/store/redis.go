package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/relay"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pmp:settings:"

// Redis stores settings as JSON under pmp:settings:<session>. Recently used
// entries are also kept in a short-lived local cache.
type Redis struct {
	client *redis.Client

	mu      sync.Mutex
	cache   map[string]cachedSettings
	closing bool
	ready   bool

	cacheTTL          time.Duration
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	opTimeout         time.Duration
}

type cachedSettings struct {
	settings relay.Settings
	loaded   time.Time
}

var _ Store = (*Redis)(nil)

// NewRedis connects and pings the server before returning.
func NewRedis(addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Redis{
		client:            rdb,
		cache:             make(map[string]cachedSettings),
		cacheTTL:          15 * time.Second,
		keyTTL:            30 * 24 * time.Hour,
		heartbeatInterval: time.Hour,
		opTimeout:         2 * time.Second,
	}, nil
}

func key(name string) string { return keyPrefix + name }

func (r *Redis) Load(name string) (relay.Settings, bool, error) {
	r.mu.Lock()
	c, ok := r.cache[name]
	if ok && time.Since(c.loaded) < r.cacheTTL {
		r.mu.Unlock()
		return c.settings, true, nil
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	val, err := r.client.Get(ctx, key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return relay.Settings{}, false, nil
	}
	if err != nil {
		return relay.Settings{}, false, fmt.Errorf("redis get %s: %w", key(name), err)
	}
	var s relay.Settings
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return relay.Settings{}, false, fmt.Errorf("decode %s: %w", key(name), err)
	}
	r.remember(name, s)
	return s, true, nil
}

func (r *Redis) Save(name string, s relay.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, key(name), data, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key(name), err)
	}
	r.remember(name, s)
	return nil
}

func (r *Redis) remember(name string, s relay.Settings) {
	r.mu.Lock()
	r.cache[name] = cachedSettings{settings: s, loaded: time.Now()}
	r.mu.Unlock()
}

// Names scans for every saved session.
func (r *Redis) Names() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	var names []string
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// StartMaintenance periodically extends the TTL of keys this process has
// touched and drops stale cache entries. It returns when ctx is done.
func (r *Redis) StartMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

func (r *Redis) heartbeat(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.cache))
	for name, c := range r.cache {
		names = append(names, name)
		if time.Since(c.loaded) >= r.cacheTTL {
			delete(r.cache, name)
		}
	}
	r.mu.Unlock()
	if len(names) == 0 {
		return
	}
	pipe := r.client.Pipeline()
	for _, name := range names {
		pipe.Expire(ctx, key(name), r.keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("store.redis.heartbeat", obs.Fields{"err": err.Error(), "keys": len(names)})
		obs.ErrorsTotal.WithLabelValues("store_heartbeat").Inc()
	}
}

func (r *Redis) SetClosing(closing bool) { r.mu.Lock(); r.closing = closing; r.mu.Unlock() }
func (r *Redis) SetReady(ready bool)     { r.mu.Lock(); r.ready = ready; r.mu.Unlock() }
func (r *Redis) IsClosing() bool         { r.mu.Lock(); defer r.mu.Unlock(); return r.closing }
func (r *Redis) IsReady() bool           { r.mu.Lock(); defer r.mu.Unlock(); return r.ready }

func (r *Redis) Close() error { return r.client.Close() }
