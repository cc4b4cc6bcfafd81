package config

import (
    "os"
    "strconv"
    "time"

    "gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
    Server   ServerConfig   `yaml:"server"`
    Database DatabaseConfig `yaml:"database"`
    Broker   BrokerConfig   `yaml:"broker"`
    Hub      HubConfig      `yaml:"hub"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
    Port            int     `yaml:"port"`
    RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
    RateBurst       int     `yaml:"rate_burst"`
    // EmitOnIngest makes the API path broadcast directly after insert,
    // in addition to the LISTEN/NOTIFY path. Useful in dev without the
    // database trigger; leave off in production to avoid double emits.
    EmitOnIngest bool `yaml:"emit_on_ingest"`
}

// DatabaseConfig holds the Postgres connection configuration.
// DSN empty means the in-memory store is used.
type DatabaseConfig struct {
    DSN           string `yaml:"dsn"`
    MaxOpenConns  int    `yaml:"max_open_conns"`
    MaxIdleConns  int    `yaml:"max_idle_conns"`
    MigrationsDir string `yaml:"migrations_dir"`
    Migrate       bool   `yaml:"migrate"`
}

// BrokerConfig holds the field-device broker subscription configuration.
// RedisURL empty disables the broker consumer.
type BrokerConfig struct {
    RedisURL string   `yaml:"redis_url"`
    Topics   []string `yaml:"topics"`
}

// HubConfig holds the WebSocket hub configuration.
type HubConfig struct {
    WriteTimeoutSeconds int           `yaml:"write_timeout_seconds"`
    WriteTimeout        time.Duration `yaml:"-"`
    SendBuffer          int           `yaml:"send_buffer"`
}

// Load reads the configuration from the given path. A missing file is not
// an error: defaults plus environment overrides still yield a usable config.
func Load(path string) (*Config, error) {
    var cfg Config
    if path != "" {
        f, err := os.Open(path)
        if err == nil {
            defer f.Close()
            if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
                return nil, err
            }
        } else if !os.IsNotExist(err) {
            return nil, err
        }
    }
    cfg.applyEnv()
    cfg.applyDefaults()
    return &cfg, nil
}

func (c *Config) applyEnv() {
    if v := os.Getenv("PORT"); v != "" {
        if n, err := strconv.Atoi(v); err == nil {
            c.Server.Port = n
        }
    }
    if v := os.Getenv("DATABASE_URL"); v != "" {
        c.Database.DSN = v
    }
    if v := os.Getenv("REDIS_URL"); v != "" {
        c.Broker.RedisURL = v
    }
}

func (c *Config) applyDefaults() {
    if c.Server.Port <= 0 {
        c.Server.Port = 8080
    }
    if c.Server.RateLimitPerSec <= 0 {
        c.Server.RateLimitPerSec = 20
    }
    if c.Server.RateBurst <= 0 {
        c.Server.RateBurst = 40
    }
    if c.Database.MigrationsDir == "" {
        c.Database.MigrationsDir = "db/migrations"
    }
    if len(c.Broker.Topics) == 0 {
        c.Broker.Topics = []string{"paradas/*/event", "buses/*/location"}
    }
    if c.Hub.WriteTimeoutSeconds <= 0 {
        c.Hub.WriteTimeoutSeconds = 5
    }
    c.Hub.WriteTimeout = time.Duration(c.Hub.WriteTimeoutSeconds) * time.Second
    if c.Hub.SendBuffer <= 0 {
        c.Hub.SendBuffer = 16
    }
}
