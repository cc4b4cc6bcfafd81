package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
    cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
    if err != nil {
        t.Fatal(err)
    }
    if cfg.Server.Port != 8080 {
        t.Fatalf("port = %d, want 8080", cfg.Server.Port)
    }
    if cfg.Hub.WriteTimeout != 5*time.Second {
        t.Fatalf("write timeout = %v", cfg.Hub.WriteTimeout)
    }
    if len(cfg.Broker.Topics) != 2 {
        t.Fatalf("topics = %v", cfg.Broker.Topics)
    }
    if cfg.Database.DSN != "" {
        t.Fatalf("dsn = %q, want empty (memory store)", cfg.Database.DSN)
    }
}

func TestLoadYAML(t *testing.T) {
    path := filepath.Join(t.TempDir(), "config.yaml")
    data := `
server:
  port: 9090
  emit_on_ingest: true
database:
  dsn: postgres://u:p@localhost/bustrack
  migrate: true
broker:
  redis_url: redis://localhost:6379/0
  topics:
    - paradas/*/event
hub:
  write_timeout_seconds: 2
  send_buffer: 8
`
    if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
        t.Fatal(err)
    }

    cfg, err := Load(path)
    if err != nil {
        t.Fatal(err)
    }
    if cfg.Server.Port != 9090 || !cfg.Server.EmitOnIngest {
        t.Fatalf("server = %+v", cfg.Server)
    }
    if cfg.Database.DSN != "postgres://u:p@localhost/bustrack" || !cfg.Database.Migrate {
        t.Fatalf("database = %+v", cfg.Database)
    }
    if len(cfg.Broker.Topics) != 1 {
        t.Fatalf("topics = %v", cfg.Broker.Topics)
    }
    if cfg.Hub.WriteTimeout != 2*time.Second || cfg.Hub.SendBuffer != 8 {
        t.Fatalf("hub = %+v", cfg.Hub)
    }
}

func TestLoadEnvOverrides(t *testing.T) {
    t.Setenv("PORT", "7001")
    t.Setenv("DATABASE_URL", "postgres://env/db")
    t.Setenv("REDIS_URL", "redis://env:6379")

    cfg, err := Load("")
    if err != nil {
        t.Fatal(err)
    }
    if cfg.Server.Port != 7001 {
        t.Fatalf("port = %d", cfg.Server.Port)
    }
    if cfg.Database.DSN != "postgres://env/db" {
        t.Fatalf("dsn = %q", cfg.Database.DSN)
    }
    if cfg.Broker.RedisURL != "redis://env:6379" {
        t.Fatalf("redis = %q", cfg.Broker.RedisURL)
    }
}

func TestLoadBadYAML(t *testing.T) {
    path := filepath.Join(t.TempDir(), "bad.yaml")
    if err := os.WriteFile(path, []byte("server: ["), 0o644); err != nil {
        t.Fatal(err)
    }
    if _, err := Load(path); err == nil {
        t.Fatal("malformed yaml must fail loudly")
    }
}
