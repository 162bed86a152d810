package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/clogs/internal/logger"
	"github.com/loykin/clogs/internal/processors"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Listen != ":8080" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Store.DSN != "sqlite://clogs.db" {
		t.Fatalf("dsn = %q", cfg.Store.DSN)
	}
	if cfg.Processors.MinSleep != 100*time.Millisecond {
		t.Fatalf("min_sleep = %v", cfg.Processors.MinSleep)
	}
	if cfg.Processors.Uptime.Interval != processors.UptimeInterval {
		t.Fatalf("uptime interval = %v", cfg.Processors.Uptime.Interval)
	}
	if cfg.Processors.Retention.MaxAge != processors.DefaultRetention {
		t.Fatalf("retention = %v", cfg.Processors.Retention.MaxAge)
	}
	if e := cfg.Processors.LogCompressor.Enabled; e == nil || !*e {
		t.Fatalf("log compressor must be enabled by default")
	}
	if cfg.Log.Slog.Level != logger.LevelInfo || !cfg.Log.Slog.TimeStamps {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "clogs.toml", `
[server]
listen = "127.0.0.1:9000"
base_path = "/telemetry"

[store]
dsn = "postgres://u:p@db:5432/clogs"
max_open_conns = 8

[log]
level = "debug"
format = "json"
  [log.file]
  path = "/var/log/clogs.log"
  max_backups = 2

[metrics]
enabled = true

[history]
sinks = ["sqlite://history.db", "clickhouse://ch:9000/default"]

[processors]
min_sleep = "250ms"
  [processors.uptime]
  enabled = false
  [processors.liveness]
  interval = "2s"
  [processors.retention]
  max_age = "48h"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" || cfg.Server.BasePath != "/telemetry" {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("unset keys keep defaults, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Store.DSN != "postgres://u:p@db:5432/clogs" || cfg.Store.MaxOpenConns != 8 {
		t.Fatalf("store: %+v", cfg.Store)
	}
	if cfg.Log.Slog.Level != logger.LevelDebug || cfg.Log.Slog.Format != logger.FormatJSON {
		t.Fatalf("log: %+v", cfg.Log.Slog)
	}
	if cfg.Log.File.Path != "/var/log/clogs.log" || cfg.Log.File.MaxBackups != 2 {
		t.Fatalf("log file: %+v", cfg.Log.File)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("metrics: %+v", cfg.Metrics)
	}
	if len(cfg.History.Sinks) != 2 {
		t.Fatalf("sinks: %v", cfg.History.Sinks)
	}
	if cfg.Processors.MinSleep != 250*time.Millisecond {
		t.Fatalf("min_sleep: %v", cfg.Processors.MinSleep)
	}
	if e := cfg.Processors.Uptime.Enabled; e == nil || *e {
		t.Fatalf("uptime must be disabled")
	}
	if cfg.Processors.Liveness.Interval != 2*time.Second {
		t.Fatalf("liveness interval: %v", cfg.Processors.Liveness.Interval)
	}
	if cfg.Processors.Retention.MaxAge != 48*time.Hour {
		t.Fatalf("retention: %v", cfg.Processors.Retention.MaxAge)
	}

	defs := processors.Catalog(cfg.Processors)
	for _, d := range defs {
		if d.Name == processors.NameUptime && !d.Disabled {
			t.Fatalf("catalog must honour enabled=false")
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLOGS_STORE_DSN", "memory://")
	t.Setenv("CLOGS_PROCESSORS_MIN_SLEEP", "1s")
	t.Setenv("CLOGS_SERVER_BASE_PATH", "/x")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "memory://" {
		t.Fatalf("dsn = %q", cfg.Store.DSN)
	}
	if cfg.Processors.MinSleep != time.Second {
		t.Fatalf("min_sleep = %v", cfg.Processors.MinSleep)
	}
	if cfg.Server.BasePath != "/x" {
		t.Fatalf("base_path = %q", cfg.Server.BasePath)
	}
}

func TestLoadEnvFilesBelowProcessEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clogs.env", "# overrides\nCLOGS_SERVER_LISTEN=:9999\nCLOGS_STORE_DSN=sqlite://from-file.db\nUNRELATED=1\n")
	p := writeFile(t, dir, "clogs.toml", "env_files = [\"clogs.env\"]\n[store]\ndsn = \"sqlite://from-toml.db\"\n")
	t.Setenv("CLOGS_STORE_DSN", "memory://")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9999" {
		t.Fatalf("env file must override the file, listen = %q", cfg.Server.Listen)
	}
	if cfg.Store.DSN != "memory://" {
		t.Fatalf("process env must win, dsn = %q", cfg.Store.DSN)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/definitely/not/there.toml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
	dir := t.TempDir()
	p := writeFile(t, dir, "bad.toml", "env_files = [\"missing.env\"]\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for missing env file")
	}
	p = writeFile(t, dir, "dur.toml", "[processors]\nmin_sleep = \"soon\"\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected decode error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = ""
	cfg.Server.BasePath = "api"
	cfg.Store.DSN = " "
	cfg.Log.Slog.Format = "xml"
	cfg.Processors.MinSleep = -1
	cfg.Processors.Uptime.Interval = -time.Second
	cfg.Server.TLS = &TLSConfig{Enabled: true}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"server.listen", "base_path", "store.dsn", "log.format", "min_sleep", "uptime.interval", "tls"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "A=1\n#comment\nB=two\n")
	pairs, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	m := make(map[string]string)
	for _, kv := range pairs {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	if m["A"] != "1" || m["B"] != "two" {
		t.Fatalf("unexpected pairs: %+v", m)
	}
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestLoadExpandsSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.env", "PG_PASSWORD=from-file\nAGENT_TOKEN=tok-1\n")
	p := writeFile(t, dir, "clogs.toml", `env_files = ["secrets.env"]
[store]
dsn = "postgres://clogs:${PG_PASSWORD}@db:5432/clogs"
[history]
sinks = ["clickhouse://${CH_HOST}:9000/telemetry"]
[server.auth]
enabled = true
agent_tokens = ["${AGENT_TOKEN}"]
`)
	t.Setenv("CH_HOST", "ch.local")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "postgres://clogs:from-file@db:5432/clogs" {
		t.Fatalf("dsn = %q", cfg.Store.DSN)
	}
	if len(cfg.History.Sinks) != 1 || cfg.History.Sinks[0] != "clickhouse://ch.local:9000/telemetry" {
		t.Fatalf("sinks = %v", cfg.History.Sinks)
	}
	if !cfg.Server.Auth.Enabled || len(cfg.Server.Auth.AgentTokens) != 1 || cfg.Server.Auth.AgentTokens[0] != "tok-1" {
		t.Fatalf("auth = %+v", cfg.Server.Auth)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cfg.Server.Auth.AgentTokens = nil
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "server.auth") {
		t.Fatalf("expected auth validation error, got %v", err)
	}
}
