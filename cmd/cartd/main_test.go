package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dwikikusuma/marketplace-cart/pkg/config"
)

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)

	cases := map[string]config.Config{
		"memory": {Storage: "memory"},
		"sqlite": {Storage: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "cart.db")},
		"redis":  {Storage: "redis", RedisAddr: mr.Addr()},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			backend, err := openBackend(ctx, cfg, log)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer backend.Close()

			if err := backend.Set(ctx, "k", []byte("v")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := backend.Ping(ctx); err != nil {
				t.Fatalf("ping: %v", err)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := openBackend(ctx, config.Config{Storage: "etcd"}, log); err == nil {
			t.Fatal("expected error")
		}
	})
}
