package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable applyEnvOverrides reads so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"DATA_DIR", "SQLITE_PATH", "BAR_DIR",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_BASE_URL", "ALPACA_DATA_URL",
		"ALPACA_FEED", "ALPACA_RATE_LIMIT_PER_MIN",
		"LOG_LEVEL", "QUANT_TRANSPORT", "QUANT_FEED",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quant.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/quant/data"
  sqlite_path: "/tmp/quant/quant.db"
server:
  host: "0.0.0.0"
  port: 8081
  grpc_port: 9091
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
  watchlist_name: "swing"
logging:
  level: "debug"
  format: "json"
  file: "/tmp/quant/quant.log"
session:
  transport: "alpaca"
  ready_timeout: 3s
  request_timeout: 1m
  request_base: 5000
trading:
  max_position_qty: 500
  paper_mode: false
feed:
  source: "2022-09-08"
  replay_interval: 250ms
watchlist:
  store: "alpaca"
  symbols: ["AAPL", "MSFT"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/quant/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/quant/data")
	}
	if cfg.Storage.BarDir != "data" {
		t.Errorf("Storage.BarDir = %q, want default %q", cfg.Storage.BarDir, "data")
	}

	// -- Server --
	if cfg.Server.Port != 8081 || cfg.Server.GRPCPort != 9091 {
		t.Errorf("Server ports = %d/%d, want 8081/9091", cfg.Server.Port, cfg.Server.GRPCPort)
	}

	// -- Alpaca --
	if !cfg.Alpaca.HasCredentials() {
		t.Error("Alpaca.HasCredentials() = false, want true")
	}
	if cfg.Alpaca.Feed != "sip" || cfg.Alpaca.WatchlistName != "swing" {
		t.Errorf("Alpaca feed/watchlist = %q/%q", cfg.Alpaca.Feed, cfg.Alpaca.WatchlistName)
	}
	if cfg.Alpaca.RateLimitPerMin != 200 {
		t.Errorf("Alpaca.RateLimitPerMin = %d, want default 200", cfg.Alpaca.RateLimitPerMin)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.File != "/tmp/quant/quant.log" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Logging.MaxBackups != 3 {
		t.Errorf("Logging.MaxBackups = %d, want default 3", cfg.Logging.MaxBackups)
	}

	// -- Session --
	if cfg.Session.Transport != "alpaca" {
		t.Errorf("Session.Transport = %q, want %q", cfg.Session.Transport, "alpaca")
	}
	if cfg.Session.ReadyTimeout != 3*time.Second {
		t.Errorf("Session.ReadyTimeout = %s, want 3s", cfg.Session.ReadyTimeout)
	}
	if cfg.Session.RequestTimeout != time.Minute {
		t.Errorf("Session.RequestTimeout = %s, want 1m", cfg.Session.RequestTimeout)
	}
	if cfg.Session.RequestBase != 5000 {
		t.Errorf("Session.RequestBase = %d, want 5000", cfg.Session.RequestBase)
	}

	// -- Trading --
	if cfg.Trading.MaxPositionQty != 500 {
		t.Errorf("Trading.MaxPositionQty = %d, want 500", cfg.Trading.MaxPositionQty)
	}
	if cfg.Trading.PaperMode {
		t.Error("Trading.PaperMode = true, want false")
	}

	// -- Feed --
	if cfg.Feed.Source != "2022-09-08" || cfg.Feed.ReplayInterval != 250*time.Millisecond {
		t.Errorf("Feed = %+v", cfg.Feed)
	}
	if cfg.Feed.SyncInterval != time.Second {
		t.Errorf("Feed.SyncInterval = %s, want default 1s", cfg.Feed.SyncInterval)
	}

	// -- Watchlist --
	if cfg.Watchlist.Store != "alpaca" || len(cfg.Watchlist.Symbols) != 2 {
		t.Errorf("Watchlist = %+v", cfg.Watchlist)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("QUANT_TRANSPORT", "alpaca")
	t.Setenv("QUANT_FEED", "random")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Session.Transport != "alpaca" || cfg.Feed.Source != "random" {
		t.Errorf("transport/feed = %q/%q, want alpaca/random", cfg.Session.Transport, cfg.Feed.Source)
	}

	// The SDK's canonical names win over ALPACA_*.
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "apca-key")
	}
}

func TestLoadOrDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if cfg.Session.Transport != "paper" {
		t.Errorf("Session.Transport = %q, want default %q", cfg.Session.Transport, "paper")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want env override %q", cfg.Logging.Level, "warn")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}

	bad := writeConfig(t, "server: [not, a, map]")
	if _, err := LoadOrDefault(bad); err == nil {
		t.Error("LoadOrDefault() should report a malformed file")
	}
}

func TestDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("QUANT_FEED")
	path := writeConfig(t, "server:\n  port: 8080\n")
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte("QUANT_FEED=random\n"), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("QUANT_FEED") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Feed.Source != "random" {
		t.Errorf("Feed.Source = %q, want %q from .env", cfg.Feed.Source, "random")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("QUANT_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("QUANT_CONFIG", "/etc/quant.yaml")
	if got := Path(); got != "/etc/quant.yaml" {
		t.Errorf("Path() = %q, want %q", got, "/etc/quant.yaml")
	}
}
