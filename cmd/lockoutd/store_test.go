package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jassus213/go-lockout/internal/config"
	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/jassus213/go-lockout/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  config.Config
		want any
	}{
		{"memory", config.Config{Store: config.StoreMemory}, &store.MemoryStore{}},
		{"redis", config.Config{Store: config.StoreRedis, RedisURL: "redis://" + mr.Addr() + "/0", RedisPrefix: "test:"}, &store.RedisStore{}},
		{"sqlite", config.Config{Store: config.StoreSQLite, SQLDSN: "file:" + filepath.Join(t.TempDir(), "lockout.db") + "?_txlock=immediate"}, &store.SQLStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, closeFn, err := openStore(ctx, &tt.cfg, time.Minute, ratelimiter.NopLogger())
			require.NoError(t, err)
			defer closeFn()
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestOpenStore_Errors(t *testing.T) {
	ctx := context.Background()

	_, _, err := openStore(ctx, &config.Config{Store: config.StoreRedis, RedisURL: "mysql://nope"}, 0, ratelimiter.NopLogger())
	assert.ErrorContains(t, err, "LOCKOUT_REDIS_URL")

	_, _, err = openStore(ctx, &config.Config{Store: "cassandra"}, 0, ratelimiter.NopLogger())
	assert.ErrorContains(t, err, "unsupported store")
}
