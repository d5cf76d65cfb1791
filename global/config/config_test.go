package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	cfg, err := load("", []string{
		"CRAG_AUTH_SECRET=s3cret",
		"CRAG_REDIS_ADDR=127.0.0.1:6379",
		"CRAG_REALTIME_OFFLINE_MAX=500",
		"CRAG_REALTIME_OFFLINE_TTL=72h",
		"CRAG_SERVER_ALLOWED_ORIGINS=crag.app, www.crag.app",
		"HOME=/root",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != "s3cret" || cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Realtime.OfflineMax != 500 || cfg.Realtime.OfflineTTL != 72*time.Hour {
		t.Fatalf("realtime=%+v", cfg.Realtime)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "www.crag.app" {
		t.Fatalf("origins=%v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.Port != 8080 || cfg.Realtime.SendBuffer != 64 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crag.yaml")
	body := "server:\n  port: 9090\nauth:\n  secret: from-file\n  ttl: 30m\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(path, []string{"CRAG_AUTH_SECRET=from-env"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Auth.TTL != 30*time.Minute || cfg.Log.Level != "debug" {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Fatalf("secret=%q", cfg.Auth.Secret)
	}
	if cfg.Auth.Alg != "HS256" {
		t.Fatalf("alg default lost: %q", cfg.Auth.Alg)
	}
}

func TestValidate(t *testing.T) {
	if _, err := load("", nil); err == nil {
		t.Fatalf("missing secret must fail")
	}
	_, err := load("", []string{
		"CRAG_AUTH_SECRET=x",
		"CRAG_NATS_SERVERS=nats://127.0.0.1:4222",
		"CRAG_KAFKA_BROKERS=127.0.0.1:9092",
	})
	if err == nil {
		t.Fatalf("two mirrors must fail")
	}
	if _, err := load(filepath.Join(t.TempDir(), "missing.yaml"), []string{"CRAG_AUTH_SECRET=x"}); err == nil {
		t.Fatalf("missing file must fail")
	}
}
