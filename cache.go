package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedOracle memoizes teammate lookups in redis. Roster history only
// changes when the database is re-imported, so a generous TTL is safe.
// Any cache failure falls through to the wrapped oracle; the game never
// observes redis being down.
type cachedOracle struct {
	cfg  *Config
	next TeammateOracle
	rdb  *redis.Client
	ttl  time.Duration
}

func newCachedOracle(cfg *Config, next TeammateOracle, rdb *redis.Client) *cachedOracle {
	return &cachedOracle{
		cfg:  cfg,
		next: next,
		rdb:  rdb,
		ttl:  cfg.redisTTL,
	}
}

func teammatesKey(name string) string {
	return "fastbreak:teammates:" + foldName(name)
}

func (c *cachedOracle) Teammates(ctx context.Context, name string) ([]string, error) {
	cached, err := c.rdb.Get(ctx, teammatesKey(name)).Result()
	switch {
	case err == nil:
		var mates []string
		if err := json.Unmarshal([]byte(cached), &mates); err == nil {
			return mates, nil
		}
	case !errors.Is(err, redis.Nil):
		logf(c.cfg, "CACHE: Get for %q failed: %v", name, err)
	}

	mates, err := c.next.Teammates(ctx, name)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(mates); err == nil {
		if err := c.rdb.Set(ctx, teammatesKey(name), data, c.ttl).Err(); err != nil {
			logf(c.cfg, "CACHE: Set for %q failed: %v", name, err)
		}
	}

	return mates, nil
}

func (c *cachedOracle) RandomStartingPlayer(ctx context.Context) (string, error) {
	return c.next.RandomStartingPlayer(ctx)
}
