package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
version = "1.2.0"

[unit_of_work]
name = "orders"
collector = "fifo"
autocommit = true

[log]
level = "debug"
format = "text"

[database]
driver = "postgres"
dsn = "host=db user=app password=secret"
slow_threshold = "500ms"
max_open_conns = 20
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cqbus.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("CQBUS_LOG_LEVEL", "warn")

	var cfg Config
	if err := Load(writeConfig(t, sampleConfig), &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Version != "1.2.0" {
		t.Errorf("version = %q", cfg.Version)
	}
	if cfg.UnitOfWork.Name != "orders" || cfg.UnitOfWork.Collector != CollectorFifo || !cfg.UnitOfWork.Autocommit {
		t.Errorf("unit_of_work = %+v", cfg.UnitOfWork)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("env override not applied, level = %q", cfg.Log.Level)
	}
	if cfg.Database.SlowThreshold != 500*time.Millisecond || cfg.Database.MaxOpenConns != 20 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if GetViper().GetString("unit_of_work.name") != "orders" {
		t.Error("viper instance not stored")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown collector", "[unit_of_work]\ncollector = \"lifo\"\n"},
		{"unknown log level", "[log]\nlevel = \"trace\"\n"},
		{"driver without dsn", "[database]\ndriver = \"mysql\"\n"},
		{"tracing without endpoint", "[tracing]\nenabled = true\n"},
		{"sampler out of range", "[tracing]\nsampler_ratio = 2.0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			if err := Load(writeConfig(t, tt.content), &cfg); err == nil {
				t.Errorf("expected validation error, got %+v", cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg Config
	if err := Load(filepath.Join(t.TempDir(), "missing.toml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReloadRunsHooks(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	var cfg Config
	if err := Load(path, &cfg); err != nil {
		t.Fatal(err)
	}

	var got string
	RegisterReloadHook(func(c *Config) { got = c.UnitOfWork.Name })
	t.Cleanup(func() {
		mu.Lock()
		onReload = nil
		mu.Unlock()
	})

	// 直接触发重载，不依赖文件系统通知的时序
	reload(GetViper(), &cfg)
	if got != "orders" {
		t.Errorf("hook saw %q", got)
	}
}

func TestMask(t *testing.T) {
	m := map[string]any{
		"version": "1.0",
		"database": map[string]any{
			"dsn":    "user:pass@tcp(db)/app",
			"driver": "mysql",
		},
		"api_token": "abc",
	}
	mask(m)

	db := m["database"].(map[string]any)
	if db["dsn"] != "******" || m["api_token"] != "******" {
		t.Errorf("sensitive values not masked: %v", m)
	}
	if db["driver"] != "mysql" || m["version"] != "1.0" {
		t.Errorf("non-sensitive values changed: %v", m)
	}
}

func TestPrintWithMask(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	PrintWithMask(&Config{
		Version:  "1.0.0",
		Database: DatabaseConfig{Driver: "mysql", DSN: "user:pass@tcp(db)/app"},
	})

	out := buf.String()
	if !strings.Contains(out, "******") || strings.Contains(out, "user:pass") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "mysql") {
		t.Errorf("driver missing from output: %q", out)
	}
}
