// Package config loads wager-engine settings. Values are applied in order:
// built-in defaults, an optional TOML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Oracle modes.
const (
	OracleLocal    = "local"
	OracleExternal = "external"
)

// Config is the full service configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Store     Store     `toml:"store"`
	Log       Log       `toml:"log"`
	Auth      Auth      `toml:"auth"`
	Oracle    Oracle    `toml:"oracle"`
	Game      Game      `toml:"game"`
	Telemetry Telemetry `toml:"telemetry"`
}

type Server struct {
	Port            string        `toml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"WAGER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `toml:"allowed_origins" env:"WAGER_ALLOWED_ORIGINS" envSeparator:","`
}

// Store selects the backend: Postgres when DatabaseURL is set, else
// LevelDB when LevelDBPath is set, else memory.
type Store struct {
	DatabaseURL string        `toml:"database_url" env:"DATABASE_URL"`
	LevelDBPath string        `toml:"leveldb_path" env:"WAGER_LEVELDB_PATH"`
	RedisURL    string        `toml:"redis_url" env:"REDIS_URL"`
	CacheTTL    time.Duration `toml:"cache_ttl" env:"WAGER_CACHE_TTL"`
}

type Log struct {
	Level      string `toml:"level" env:"WAGER_LOG_LEVEL"`
	File       string `toml:"file" env:"WAGER_LOG_FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"WAGER_LOG_MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"WAGER_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"WAGER_LOG_MAX_AGE_DAYS"`
}

// Auth configures bearer tokens. With no public key only the development
// header can identify callers, and only when DevHeader is set.
type Auth struct {
	JWTPublicKey string `toml:"jwt_public_key" env:"WAGER_JWT_PUBLIC_KEY"`
	Issuer       string `toml:"issuer" env:"WAGER_JWT_ISSUER"`
	Audience     string `toml:"audience" env:"WAGER_JWT_AUDIENCE"`
	DevHeader    bool   `toml:"dev_header" env:"WAGER_DEV_HEADER"`
}

// Oracle configures randomness. In local mode the server signs its own
// proofs with SigningKey (generated when empty); in external mode proofs
// are verified against PublicKey.
type Oracle struct {
	Mode       string        `toml:"mode" env:"WAGER_ORACLE_MODE"`
	PublicKey  string        `toml:"public_key" env:"WAGER_ORACLE_PUBLIC_KEY"`
	SigningKey string        `toml:"signing_key" env:"WAGER_ORACLE_SIGNING_KEY"`
	Delay      time.Duration `toml:"delay" env:"WAGER_ORACLE_DELAY"`
}

type Game struct {
	HouseAuthority string        `toml:"house_authority" env:"WAGER_HOUSE_AUTHORITY"`
	Timeout        time.Duration `toml:"timeout" env:"WAGER_RANDOMNESS_TIMEOUT"`
	MinWager       uint64        `toml:"min_wager" env:"WAGER_MIN_WAGER"`
	MaxWager       uint64        `toml:"max_wager" env:"WAGER_MAX_WAGER"`
	MaxInPlay      uint64        `toml:"max_in_play" env:"WAGER_MAX_IN_PLAY"`
	KeeperInterval time.Duration `toml:"keeper_interval" env:"WAGER_KEEPER_INTERVAL"`
	KeeperIdentity string        `toml:"keeper_identity" env:"WAGER_KEEPER_IDENTITY"`
	Faucet         bool          `toml:"faucet" env:"WAGER_FAUCET"`
}

// Telemetry enables OTLP/HTTP trace export when Endpoint is set.
type Telemetry struct {
	Endpoint    string  `toml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `toml:"insecure" env:"WAGER_OTLP_INSECURE"`
	ServiceName string  `toml:"service_name" env:"OTEL_SERVICE_NAME"`
	SampleRatio float64 `toml:"sample_ratio" env:"WAGER_TRACE_SAMPLE_RATIO"`
}

// Default returns the built-in configuration: in-memory store, local
// oracle, ten-minute randomness timeout.
func Default() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Store: Store{CacheTTL: 30 * time.Second},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Auth: Auth{
			Issuer:   "wagerctl",
			Audience: "wager-engine",
		},
		Oracle: Oracle{Mode: OracleLocal},
		Game: Game{
			Timeout:        10 * time.Minute,
			KeeperInterval: 30 * time.Second,
			KeeperIdentity: "keeper",
		},
		Telemetry: Telemetry{
			ServiceName: "wager-engine",
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// path is non-empty), and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}


// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Oracle.Mode {
	case OracleLocal:
	case OracleExternal:
		if c.Oracle.PublicKey == "" {
			errs = append(errs, errors.New("oracle.public_key is required in external mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("oracle.mode must be %q or %q, got %q", OracleLocal, OracleExternal, c.Oracle.Mode))
	}
	if c.Oracle.Delay < 0 {
		errs = append(errs, errors.New("oracle.delay must not be negative"))
	}
	if c.Game.Timeout <= 0 {
		errs = append(errs, errors.New("game.timeout must be positive"))
	}
	if c.Game.MinWager > 0 && c.Game.MaxWager > 0 && c.Game.MinWager > c.Game.MaxWager {
		errs = append(errs, fmt.Errorf("game.min_wager %d exceeds game.max_wager %d", c.Game.MinWager, c.Game.MaxWager))
	}
	if c.Game.MaxInPlay > 0 && c.Game.MinWager > c.Game.MaxInPlay {
		errs = append(errs, fmt.Errorf("game.min_wager %d exceeds game.max_in_play %d", c.Game.MinWager, c.Game.MaxInPlay))
	}
	if c.Game.KeeperInterval > 0 && c.Game.KeeperIdentity == "" {
		errs = append(errs, errors.New("game.keeper_identity is required when the keeper runs"))
	}
	if c.Auth.JWTPublicKey != "" && (c.Auth.Issuer == "" || c.Auth.Audience == "") {
		errs = append(errs, errors.New("auth.issuer and auth.audience are required with a jwt public key"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be in [0, 1], got %v", c.Telemetry.SampleRatio))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
