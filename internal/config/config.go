package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

const (
	IdentityLedger = "ledger"
	IdentityRemote = "remote"
)

type Config struct {
	Port       int      `mapstructure:"port"`
	LogLevel   string   `mapstructure:"log_level"`
	AdminToken string   `mapstructure:"admin_token"`
	Database   Database `mapstructure:"database"`
	Redis      Redis    `mapstructure:"redis"`
	Identity   Identity `mapstructure:"identity"`
	Game       Game     `mapstructure:"game"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Schema   string `mapstructure:"schema"`

	MigrationsPath string `mapstructure:"migrations_path"`
}

// URL is the pgx connection string for d.
func (d Database) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("search_path", d.Schema)
	u.RawQuery = q.Encode()
	return u.String()
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Identity struct {
	Mode    string        `mapstructure:"mode"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Game struct {
	LiftoffDelay   time.Duration `mapstructure:"liftoff_delay"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	WaitingGrace   time.Duration `mapstructure:"waiting_grace"`
	MaxFlight      time.Duration `mapstructure:"max_flight"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
}

// env maps config keys to the environment variables deployments already use.
var env = map[string]string{
	"port":                     "PORT",
	"log_level":                "LOG_LEVEL",
	"admin_token":              "ADMIN_TOKEN",
	"database.host":            "BLUEPRINT_DB_HOST",
	"database.port":            "BLUEPRINT_DB_PORT",
	"database.name":            "BLUEPRINT_DB_DATABASE",
	"database.username":        "BLUEPRINT_DB_USERNAME",
	"database.password":        "BLUEPRINT_DB_PASSWORD",
	"database.schema":          "BLUEPRINT_DB_SCHEMA",
	"database.migrations_path": "MIGRATIONS_PATH",
	"redis.addr":               "REDIS_URL",
	"redis.password":           "REDIS_PASSWORD",
	"redis.db":                 "REDIS_DB",
	"identity.mode":            "IDENTITY_MODE",
	"identity.url":             "IDENTITY_URL",
	"identity.timeout":         "IDENTITY_TIMEOUT",
	"game.liftoff_delay":       "GAME_LIFTOFF_DELAY",
	"game.reaper_interval":     "GAME_REAPER_INTERVAL",
	"game.waiting_grace":       "GAME_WAITING_GRACE",
	"game.max_flight":          "GAME_MAX_FLIGHT",
	"game.op_timeout":          "GAME_OP_TIMEOUT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("admin_token", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "crashdb")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.migrations_path", "./migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("identity.mode", IdentityLedger)
	v.SetDefault("identity.url", "")
	v.SetDefault("identity.timeout", "3s")

	v.SetDefault("game.liftoff_delay", "6s")
	v.SetDefault("game.reaper_interval", "30s")
	v.SetDefault("game.waiting_grace", "15s")
	v.SetDefault("game.max_flight", "30s")
	v.SetDefault("game.op_timeout", "5s")
}

// Load reads defaults, then an optional config.yaml from the given
// directories (default "."), then the environment.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	c.Identity.Mode = strings.ToLower(c.Identity.Mode)
	switch c.Identity.Mode {
	case IdentityLedger:
	case IdentityRemote:
		if c.Identity.URL == "" {
			return errors.New("config: IDENTITY_URL is required when IDENTITY_MODE=remote")
		}
	default:
		return fmt.Errorf("config: unknown IDENTITY_MODE %q", c.Identity.Mode)
	}
	for name, d := range map[string]time.Duration{
		"GAME_LIFTOFF_DELAY":   c.Game.LiftoffDelay,
		"GAME_REAPER_INTERVAL": c.Game.ReaperInterval,
		"GAME_WAITING_GRACE":   c.Game.WaitingGrace,
		"GAME_MAX_FLIGHT":      c.Game.MaxFlight,
		"GAME_OP_TIMEOUT":      c.Game.OpTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	return nil
}
