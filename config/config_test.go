package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalConfig = `app:
  name: "cryptosignal"
  version: "1.0"
source:
  root: "testdata/fixtures"
venues: [bybit, bitget]
pairs:
  - symbol: BTCUSDT
    venue_a: bybit
    venue_b: bitget
    health_a: 90
    health_b: 80
risk:
  intraday_dd_pct: 2.5
  venue_health_thresholds:
    bybit: 50
llca:
  z_in: 2.0
  z_out: 0.5
  max_hold_sec: 600
hfh:
  k_by_pair:
    BTCUSDT: 1.5
  vol_window_min: 30
position_caps:
  per_pair_usd: 10000
  per_venue_usd: 20000
  global_usd: 50000
latency_penalty_lambda: 0.1
`

// writeTempConfig writes content to a fresh config file and returns its path.
func writeTempConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("FIXTURE_ROOT", "")
	path := writeTempConfig(t, t.TempDir(), "config.yml", minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "cryptosignal" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Source.Format != "jsonl" || cfg.Source.GapThresholdMs != 200 || cfg.Source.TopN != 10 {
		t.Errorf("source defaults not applied: %+v", cfg.Source)
	}
	if cfg.HFH.Nowcast.Est != 0.5 || cfg.HFH.NowcastClamp != 0.01 {
		t.Errorf("nowcast defaults not applied: %+v", cfg.HFH)
	}
	if cfg.HFH.KByPair["BTCUSDT"] != 1.5 {
		t.Errorf("unexpected k_by_pair: %v", cfg.HFH.KByPair)
	}
	if got := cfg.Risk.HealthThreshold("bybit"); got != 50 {
		t.Errorf("unexpected bybit threshold: %v", got)
	}
	if got := cfg.Risk.HealthThreshold("bitget"); got != 0 {
		t.Errorf("unset threshold should be 0, got %v", got)
	}
	if name := cfg.Pairs[0].Name(); name != "BTCUSDT:bybit/bitget" {
		t.Errorf("unexpected pair name: %s", name)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("FIXTURE_ROOT", "/data/replay")
	t.Setenv("S3_BUCKET", " replay-bucket ")
	t.Setenv("AWS_REGION", "eu-west-1")

	content := strings.Replace(minimalConfig, `source:
  root: "testdata/fixtures"`, `source:
  root: "testdata/fixtures"
  s3:
    enabled: true`, 1)
	path := writeTempConfig(t, t.TempDir(), "config.yml", content)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Source.Root != "/data/replay" {
		t.Errorf("FIXTURE_ROOT not applied: %s", cfg.Source.Root)
	}
	if cfg.Source.S3.Bucket != "replay-bucket" || cfg.Source.S3.Region != "eu-west-1" {
		t.Errorf("S3 overrides not applied: %+v", cfg.Source.S3)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("FIXTURE_ROOT", "")

	tests := []struct {
		name    string
		from    string
		to      string
		wantErr string
	}{
		{"missing name", `name: "cryptosignal"`, `name: ""`, "app.name is required"},
		{"same venue", "venue_b: bitget", "venue_b: bybit", "legs must be on different venues"},
		{"unknown venue", "venue_b: bitget", "venue_b: okx", "not listed in venues"},
		{"health range", "health_a: 90", "health_a: 190", "health must be within"},
		{"negative caps", "global_usd: 50000", "global_usd: -1", "position_caps"},
		{"bad format", `root: "testdata/fixtures"`, "root: x\n  format: csv", "source.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := strings.Replace(minimalConfig, tt.from, tt.to, 1)
			path := writeTempConfig(t, t.TempDir(), "config.yml", content)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePathPrefersEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	base := writeTempConfig(t, dir, "config.yml", minimalConfig)
	staging := writeTempConfig(t, dir, "config.staging.yml", minimalConfig)

	t.Setenv("APP_ENV", "stage")
	if got := ResolvePath(base); got != staging {
		t.Fatalf("expected %s, got %s", staging, got)
	}

	t.Setenv("APP_ENV", "production")
	if got := ResolvePath(base); got != base {
		t.Fatalf("expected fallback to %s, got %s", base, got)
	}
}

func TestAppEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if got := AppEnvironment(); got != EnvironmentDevelopment {
		t.Fatalf("expected development default, got %s", got)
	}
	t.Setenv("APP_ENV", "PROD")
	if got := AppEnvironment(); got != EnvironmentProduction {
		t.Fatalf("expected production alias, got %s", got)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Fatalf("production should be production-like")
	}
}
