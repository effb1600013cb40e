package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadWithoutConfigDirUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("CONFIG_ENV", "local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Errorf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.Server.Port != "8000" {
		t.Errorf("expected port 8000, got %q", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("unexpected shutdown timeout %s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadMergesFilesAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  port: "9000"
  read_timeout: 5s
store:
  driver: postgres
db:
  host: db.internal
  port: 5433
redis:
  ttl: 2m
`)
	writeFile(t, dir, "test.yaml", `
db:
  host: db.test
log:
  level: debug
`)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("MQ_URL", "amqp://guest:guest@mq:5672/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Store.Driver != StorePostgres {
		t.Errorf("expected postgres driver, got %q", cfg.Store.Driver)
	}
	if cfg.DB.Host != "db.test" || cfg.DB.Port != 5433 {
		t.Errorf("overlay not merged: %+v", cfg.DB)
	}
	if cfg.DB.User != "postgres" {
		t.Errorf("default lost during merge: %+v", cfg.DB)
	}
	if cfg.Redis.Addr != "cache:6379" || cfg.Redis.TTL != 2*time.Minute {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.MQ.URL != "amqp://guest:guest@mq:5672/" {
		t.Errorf("MQ_URL not applied: %q", cfg.MQ.URL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Log.Level)
	}
}

func TestLoadEnvOverridesDriver(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("SERVER_PORT", "8081")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != StorePostgres || cfg.Server.Port != "8081" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("STORE_DRIVER", "sqlite")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server: [unclosed")
	t.Setenv("CONFIG_DIR", dir)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed base.yaml")
	}
}
