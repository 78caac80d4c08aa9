package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cryptosignal/internal/signal"
)

type Config struct {
	App                  AppConfig          `yaml:"app"`
	Logging              LoggingConfig      `yaml:"logging"`
	Source               SourceConfig       `yaml:"source"`
	Replay               ReplayConfig       `yaml:"replay"`
	Channels             ChannelsConfig     `yaml:"channels"`
	Processor            ProcessorConfig    `yaml:"processor"`
	Pairs                []PairConfig       `yaml:"pairs"`
	Venues               []string           `yaml:"venues"`
	PositionCaps         PositionCapsConfig `yaml:"position_caps"`
	HFH                  HFHConfig          `yaml:"hfh"`
	LLCA                 LLCAConfig         `yaml:"llca"`
	Risk                 RiskConfig         `yaml:"risk"`
	LatencyPenaltyLambda float64            `yaml:"latency_penalty_lambda"`
	Metrics              MetricsConfig      `yaml:"metrics"`
	Broadcast            BroadcastConfig    `yaml:"broadcast"`
	Dashboard            DashboardConfig    `yaml:"dashboard"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// SourceConfig selects where recorded venue data is replayed from.
type SourceConfig struct {
	Format         string   `yaml:"format"`
	Root           string   `yaml:"root"`
	GapThresholdMs int64    `yaml:"gap_threshold_ms"`
	TopN           int      `yaml:"top_n"`
	S3             S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ReplayConfig paces replay. RecordsPerSecond 0 replays as fast as possible.
type ReplayConfig struct {
	RecordsPerSecond float64 `yaml:"records_per_second"`
	Burst            int     `yaml:"burst"`
}

type ChannelsConfig struct {
	RawBuffer     int `yaml:"raw_buffer"`
	FeatureBuffer int `yaml:"feature_buffer"`
}

type ProcessorConfig struct {
	MaxWorkers     int           `yaml:"max_workers"`
	Window         int           `yaml:"window"`
	FundingWindow  int           `yaml:"funding_window"`
	VolMinReturns  int           `yaml:"vol_min_returns"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// PairConfig is one cross-venue instrument: the same canonical symbol quoted
// on two venues, with a static health score per leg.
type PairConfig struct {
	Symbol  string  `yaml:"symbol"`
	VenueA  string  `yaml:"venue_a"`
	VenueB  string  `yaml:"venue_b"`
	HealthA float64 `yaml:"health_a"`
	HealthB float64 `yaml:"health_b"`
}

// Name identifies the pair in logs, metrics and feature batches.
func (p PairConfig) Name() string {
	return p.Symbol + ":" + p.VenueA + "/" + p.VenueB
}

type PositionCapsConfig struct {
	PerPairUSD  int64 `yaml:"per_pair_usd"`
	PerVenueUSD int64 `yaml:"per_venue_usd"`
	GlobalUSD   int64 `yaml:"global_usd"`
}

type HFHConfig struct {
	KByPair      map[string]float64    `yaml:"k_by_pair"`
	VolWindowMin int                   `yaml:"vol_window_min"`
	Nowcast      signal.NowcastWeights `yaml:"nowcast"`
	NowcastClamp float64               `yaml:"nowcast_clamp"`
}

type LLCAConfig struct {
	ZIn        float64 `yaml:"z_in"`
	ZOut       float64 `yaml:"z_out"`
	MaxHoldSec int     `yaml:"max_hold_sec"`
}

type RiskConfig struct {
	IntradayDDPct         float64        `yaml:"intraday_dd_pct"`
	VenueHealthThresholds map[string]int `yaml:"venue_health_thresholds"`
	NTPThresholdMs        int64          `yaml:"ntp_threshold_ms"`
}

// HealthThreshold returns the minimum health score for a venue, 0 when unset.
func (r RiskConfig) HealthThreshold(venue string) float64 {
	return float64(r.VenueHealthThresholds[venue])
}

type MetricsConfig struct {
	PrometheusAddr string           `yaml:"prometheus_addr"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type BroadcastConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	History int    `yaml:"history"`
}

// DashboardConfig controls the JSON status API.
type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout", ReportInterval: time.Minute},
		Source: SourceConfig{
			Format:         "jsonl",
			GapThresholdMs: 200,
			TopN:           10,
		},
		Channels:  ChannelsConfig{RawBuffer: 1024, FeatureBuffer: 256},
		Processor: ProcessorConfig{MaxWorkers: 4, Window: 60, FundingWindow: 16, VolMinReturns: 2, ReportInterval: 30 * time.Second},
		HFH: HFHConfig{
			Nowcast:      signal.DefaultNowcastWeights(),
			NowcastClamp: signal.DefaultNowcastClamp,
		},
		Risk:      RiskConfig{NTPThresholdMs: 100},
		Broadcast: BroadcastConfig{Address: ":8090", History: 100},
		Dashboard: DashboardConfig{Address: ":8080", RefreshInterval: 5 * time.Second, LogHistory: 200, MetricsHistory: 200},
	}
}

// LoadConfig reads the YAML file at path (or its APP_ENV specific variant),
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	path = ResolvePath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FIXTURE_ROOT"); v != "" {
		config.Source.Root = strings.TrimSpace(v)
	}
	if config.Source.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Source.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Source.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Source.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Source.S3.Bucket = v
		}
	}
	config.Source.S3.Bucket = strings.TrimSpace(config.Source.S3.Bucket)
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = os.Getenv("AWS_REGION")
	}
}

func validateConfig(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.App.Name == "" {
		add("app.name is required")
	}
	if cfg.App.Version == "" {
		add("app.version is required")
	}

	switch cfg.Source.Format {
	case "jsonl", "parquet":
	default:
		add("source.format must be jsonl or parquet, got '%s'", cfg.Source.Format)
	}
	if cfg.Source.Root == "" && !cfg.Source.S3.Enabled {
		add("source.root is required when S3 is disabled")
	}
	if cfg.Source.GapThresholdMs <= 0 {
		add("source.gap_threshold_ms must be greater than 0")
	}
	if cfg.Source.S3.Enabled {
		if cfg.Source.S3.Bucket == "" {
			add("source.s3.bucket is required when S3 is enabled")
		} else if !isValidS3Bucket(cfg.Source.S3.Bucket) {
			add("source.s3.bucket '%s' is invalid", cfg.Source.S3.Bucket)
		}
		if cfg.Source.S3.Region == "" {
			add("source.s3.region is required when S3 is enabled")
		}
	}

	if cfg.Replay.RecordsPerSecond < 0 {
		add("replay.records_per_second must not be negative")
	}
	if cfg.Channels.RawBuffer <= 0 {
		add("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.FeatureBuffer <= 0 {
		add("channels.feature_buffer must be greater than 0")
	}
	if cfg.Processor.MaxWorkers <= 0 {
		add("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.Window < 2 {
		add("processor.window must be at least 2")
	}
	if cfg.Processor.FundingWindow <= 0 {
		add("processor.funding_window must be greater than 0")
	}
	if cfg.Processor.VolMinReturns < 1 || cfg.Processor.VolMinReturns >= cfg.Processor.Window {
		add("processor.vol_min_returns must be within [1, window)")
	}

	if len(cfg.Pairs) == 0 {
		add("at least one pair is required")
	}
	venues := make(map[string]bool, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues[v] = true
	}
	for i, p := range cfg.Pairs {
		if p.Symbol == "" {
			add("pairs[%d].symbol is required", i)
		}
		if p.VenueA == "" || p.VenueB == "" {
			add("pairs[%d] requires venue_a and venue_b", i)
		} else if p.VenueA == p.VenueB {
			add("pairs[%d] legs must be on different venues", i)
		}
		if len(venues) > 0 && (!venues[p.VenueA] || !venues[p.VenueB]) {
			add("pairs[%d] references a venue not listed in venues", i)
		}
		if p.HealthA < 0 || p.HealthA > 100 || p.HealthB < 0 || p.HealthB > 100 {
			add("pairs[%d] health must be within [0, 100]", i)
		}
	}

	if cfg.PositionCaps.PerPairUSD < 0 || cfg.PositionCaps.PerVenueUSD < 0 || cfg.PositionCaps.GlobalUSD < 0 {
		add("position_caps must not be negative")
	}
	if cfg.HFH.VolWindowMin < 0 {
		add("hfh.vol_window_min must not be negative")
	}
	if cfg.HFH.NowcastClamp <= 0 {
		add("hfh.nowcast_clamp must be greater than 0")
	}
	if cfg.LLCA.MaxHoldSec < 0 {
		add("llca.max_hold_sec must not be negative")
	}
	if cfg.LatencyPenaltyLambda < 0 {
		add("latency_penalty_lambda must not be negative")
	}
	if cfg.Risk.NTPThresholdMs <= 0 {
		add("risk.ntp_threshold_ms must be greater than 0")
	}
	if cfg.Broadcast.Enabled && cfg.Broadcast.Address == "" {
		add("broadcast.address is required when broadcast is enabled")
	}

	return errors.Join(errs...)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
