package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when QUANT_CONFIG is not set.
const DefaultPath = "config/quant.yaml"

// ErrMissingCredentials is returned when an Alpaca component is configured
// without an API key pair.
var ErrMissingCredentials = errors.New("alpaca api key and secret are required")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the quant toolkit.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	Session   Session   `yaml:"session"`
	Trading   Trading   `yaml:"trading"`
	Feed      Feed      `yaml:"feed"`
	Watchlist Watchlist `yaml:"watchlist"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	BarDir     string `yaml:"bar_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	WatchlistName   string `yaml:"watchlist_name"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// HasCredentials reports whether an API key pair is configured.
func (a Alpaca) HasCredentials() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Session configures the brokerage session and its transport.
type Session struct {
	Transport      string        `yaml:"transport"` // "paper" or "alpaca"
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestBase    int64         `yaml:"request_base"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// Trading defines risk and execution parameters.
type Trading struct {
	MaxPositionQty int64         `yaml:"max_position_qty"`
	PaperMode      bool          `yaml:"paper_mode"`
	AwaitInterval  time.Duration `yaml:"await_interval"`
}

// Feed selects and paces the market-data feed.
type Feed struct {
	Source         string        `yaml:"source"` // "live", "random" or a YYYY-MM-DD replay date
	Interval       time.Duration `yaml:"interval"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
}

// Watchlist selects where the watchlist is persisted.
type Watchlist struct {
	Store   string   `yaml:"store"` // "sqlite" or "alpaca"
	Symbols []string `yaml:"symbols"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/quant.db",
			BarDir:     "data",
		},
		Server: Server{Host: "127.0.0.1", Port: 8080, GRPCPort: 9090},
		Alpaca: Alpaca{
			BaseURL:         "https://paper-api.alpaca.markets",
			Feed:            "iex",
			WatchlistName:   "quant",
			RateLimitPerMin: 200,
		},
		Logging: Logging{Level: "info", Format: "text", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
		Session: Session{
			Transport:      "paper",
			ReadyTimeout:   10 * time.Second,
			RequestTimeout: 30 * time.Second,
			RequestBase:    1000,
			PollInterval:   2 * time.Second,
		},
		Trading: Trading{PaperMode: true, AwaitInterval: time.Second},
		Feed: Feed{
			Source:         "live",
			Interval:       5 * time.Second,
			ReplayInterval: time.Second,
			SyncInterval:   time.Second,
		},
		Watchlist: Watchlist{Store: "sqlite"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from QUANT_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("QUANT_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults and then applies environment variable overrides. A .env file in
// the working directory or next to the config file is loaded first; it never
// replaces variables already set.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

func loadDotEnv(configPath string) {
	for _, p := range []string{".env", filepath.Join(filepath.Dir(configPath), ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	str("DATA_DIR", &cfg.Storage.DataDir)
	str("SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("BAR_DIR", &cfg.Storage.BarDir)

	str("ALPACA_API_KEY", &cfg.Alpaca.APIKey)
	str("ALPACA_API_SECRET", &cfg.Alpaca.APISecret)
	str("ALPACA_BASE_URL", &cfg.Alpaca.BaseURL)
	str("ALPACA_DATA_URL", &cfg.Alpaca.DataURL)
	str("ALPACA_FEED", &cfg.Alpaca.Feed)
	if v := os.Getenv("ALPACA_RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Alpaca.RateLimitPerMin = n
		}
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("QUANT_TRANSPORT", &cfg.Session.Transport)
	str("QUANT_FEED", &cfg.Feed.Source)

	// Standard Alpaca env vars (highest priority, the names used by the SDK).
	str("APCA_API_KEY_ID", &cfg.Alpaca.APIKey)
	str("APCA_API_SECRET_KEY", &cfg.Alpaca.APISecret)
}
