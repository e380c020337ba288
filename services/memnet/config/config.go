// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the MemNet configuration.
//
// Values are applied in priority order: defaults, then the YAML (or JSON)
// file, then MEMNET_* environment variables. The result is validated
// before it is returned.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/memnet/services/memnet/graph"
	"github.com/AleutianAI/memnet/services/memnet/match"
	"github.com/AleutianAI/memnet/services/memnet/query"
	"github.com/AleutianAI/memnet/services/memnet/storage/badger"
	"github.com/AleutianAI/memnet/services/memnet/telemetry"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full MemNet configuration.
type Config struct {
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Match     MatchConfig     `json:"match" yaml:"match"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Score     ScoreConfig     `json:"score" yaml:"score"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Watch     WatchConfig     `json:"watch" yaml:"watch"`
}

// StorageConfig configures snapshot persistence.
type StorageConfig struct {
	// Path is the BadgerDB directory. Empty means no persistence.
	Path       string        `json:"path" yaml:"path"`
	InMemory   bool          `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool          `json:"sync_writes" yaml:"sync_writes"`
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`
	// Snapshot is the snapshot name the CLI restores and saves.
	Snapshot string `json:"snapshot" yaml:"snapshot"`
}

// MatchConfig bounds each isomorphism search.
type MatchConfig struct {
	MaxMatches    int           `json:"max_matches" yaml:"max_matches"`
	MaxIterations int           `json:"max_iterations" yaml:"max_iterations"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

type CacheConfig struct {
	Size int `json:"size" yaml:"size"`
}

type ScoreConfig struct {
	LinkType string `json:"link_type" yaml:"link_type"`
	Workers  int    `json:"workers" yaml:"workers"`
}

// ServerConfig configures the HTTP API. RateLimit is requests per second;
// 0 disables limiting.
type ServerConfig struct {
	Addr      string  `json:"addr" yaml:"addr"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
}

type TelemetryConfig struct {
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter"`
	ServiceName    string `json:"service_name" yaml:"service_name"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
	Dir   string `json:"dir" yaml:"dir"`
}

// WatchConfig configures file watching. An empty Path disables it.
type WatchConfig struct {
	Path     string        `json:"path" yaml:"path"`
	Debounce time.Duration `json:"debounce" yaml:"debounce"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
			Snapshot:   "default",
		},
		Cache: CacheConfig{Size: query.DefaultCacheSize},
		Score: ScoreConfig{LinkType: string(graph.LinkHasNext)},
		Server: ServerConfig{
			Addr:      ":8085",
			RateLimit: 50,
			Burst:     100,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			ServiceName:    "memnet",
			OTLPEndpoint:   "localhost:4317",
		},
		Log:   LogConfig{Level: "info"},
		Watch: WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// Load builds the configuration from defaults, the file at path (if any)
// and the environment.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - File read or parse errors, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// envBinding maps one MEMNET_* variable onto a field.
type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func setString(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func setInt(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = i
		return nil
	}
}

func setFloat(dst func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(cfg) = f
		return nil
	}
}

func setBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

func setDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"MEMNET_STORAGE_PATH", setString(func(c *Config) *string { return &c.Storage.Path })},
	{"MEMNET_STORAGE_IN_MEMORY", setBool(func(c *Config) *bool { return &c.Storage.InMemory })},
	{"MEMNET_STORAGE_SYNC_WRITES", setBool(func(c *Config) *bool { return &c.Storage.SyncWrites })},
	{"MEMNET_STORAGE_GC_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Storage.GCInterval })},
	{"MEMNET_STORAGE_SNAPSHOT", setString(func(c *Config) *string { return &c.Storage.Snapshot })},
	{"MEMNET_MATCH_MAX_MATCHES", setInt(func(c *Config) *int { return &c.Match.MaxMatches })},
	{"MEMNET_MATCH_MAX_ITERATIONS", setInt(func(c *Config) *int { return &c.Match.MaxIterations })},
	{"MEMNET_MATCH_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Match.Timeout })},
	{"MEMNET_CACHE_SIZE", setInt(func(c *Config) *int { return &c.Cache.Size })},
	{"MEMNET_SCORE_LINK_TYPE", setString(func(c *Config) *string { return &c.Score.LinkType })},
	{"MEMNET_SCORE_WORKERS", setInt(func(c *Config) *int { return &c.Score.Workers })},
	{"MEMNET_SERVER_ADDR", setString(func(c *Config) *string { return &c.Server.Addr })},
	{"MEMNET_SERVER_RATE_LIMIT", setFloat(func(c *Config) *float64 { return &c.Server.RateLimit })},
	{"MEMNET_SERVER_BURST", setInt(func(c *Config) *int { return &c.Server.Burst })},
	{"MEMNET_TRACE_EXPORTER", setString(func(c *Config) *string { return &c.Telemetry.TraceExporter })},
	{"MEMNET_METRIC_EXPORTER", setString(func(c *Config) *string { return &c.Telemetry.MetricExporter })},
	{"MEMNET_SERVICE_NAME", setString(func(c *Config) *string { return &c.Telemetry.ServiceName })},
	{"MEMNET_OTLP_ENDPOINT", setString(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint })},
	{"MEMNET_LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
	{"MEMNET_LOG_JSON", setBool(func(c *Config) *bool { return &c.Log.JSON })},
	{"MEMNET_LOG_DIR", setString(func(c *Config) *string { return &c.Log.Dir })},
	{"MEMNET_WATCH_PATH", setString(func(c *Config) *string { return &c.Watch.Path })},
	{"MEMNET_WATCH_DEBOUNCE", setDuration(func(c *Config) *time.Duration { return &c.Watch.Debounce })},
}

// loadEnv applies every set MEMNET_* variable. Unlike file values, a
// malformed variable is an error rather than silently ignored.
func loadEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", b.name, v, err))
		}
	}
	return errors.Join(errs...)
}

var validExporters = map[string][]string{
	"trace":  {"none", "stdout", "otlp", "jaeger"},
	"metric": {"none", "stdout", "prometheus"},
}

var validLevels = []string{"debug", "info", "warn", "error"}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is usable.
//
// Outputs:
//
//	error - ErrInvalidConfig naming every offending field, or nil.
func (c Config) Validate() error {
	var problems []string
	if c.Storage.GCInterval < 0 {
		problems = append(problems, "storage.gc_interval must be >= 0")
	}
	if c.Storage.Snapshot == "" || strings.Contains(c.Storage.Snapshot, "/") {
		problems = append(problems, "storage.snapshot must be a non-empty name without '/'")
	}
	if c.Match.MaxMatches < 0 {
		problems = append(problems, "match.max_matches must be >= 0")
	}
	if c.Match.MaxIterations < 0 {
		problems = append(problems, "match.max_iterations must be >= 0")
	}
	if c.Match.Timeout < 0 {
		problems = append(problems, "match.timeout must be >= 0")
	}
	if c.Cache.Size < 0 {
		problems = append(problems, "cache.size must be >= 0")
	}
	if c.Score.LinkType == "" {
		problems = append(problems, "score.link_type is required")
	}
	if c.Score.Workers < 0 {
		problems = append(problems, "score.workers must be >= 0")
	}
	if c.Server.RateLimit < 0 {
		problems = append(problems, "server.rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		problems = append(problems, "server.burst must be >= 1 when rate limiting")
	}
	if !oneOf(c.Telemetry.TraceExporter, validExporters["trace"]) {
		problems = append(problems, fmt.Sprintf("telemetry.trace_exporter %q not in %v", c.Telemetry.TraceExporter, validExporters["trace"]))
	}
	if !oneOf(c.Telemetry.MetricExporter, validExporters["metric"]) {
		problems = append(problems, fmt.Sprintf("telemetry.metric_exporter %q not in %v", c.Telemetry.MetricExporter, validExporters["metric"]))
	}
	if !oneOf(strings.ToLower(c.Log.Level), validLevels) {
		problems = append(problems, fmt.Sprintf("log.level %q not in %v", c.Log.Level, validLevels))
	}
	if c.Watch.Debounce < 0 {
		problems = append(problems, "watch.debounce must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ToQueryConfig converts the match, cache and score sections for query.New.
func (c Config) ToQueryConfig() query.Config {
	return query.Config{
		Match: match.Config{
			MaxMatches:    c.Match.MaxMatches,
			MaxIterations: c.Match.MaxIterations,
			Timeout:       c.Match.Timeout,
		},
		CacheSize:     c.Cache.Size,
		ScoreLinkType: graph.LinkType(c.Score.LinkType),
		ScoreWorkers:  c.Score.Workers,
	}
}

// ToBadgerConfig converts the storage section. ok is false when persistence
// is disabled.
func (c Config) ToBadgerConfig() (cfg badger.Config, ok bool) {
	if c.Storage.Path == "" && !c.Storage.InMemory {
		return badger.Config{}, false
	}
	cfg = badger.DefaultConfig()
	cfg.Path = c.Storage.Path
	cfg.InMemory = c.Storage.InMemory
	cfg.SyncWrites = c.Storage.SyncWrites
	cfg.GCInterval = c.Storage.GCInterval
	return cfg, true
}

// ToTelemetryConfig converts the telemetry section for telemetry.Init.
func (c Config) ToTelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = c.Telemetry.ServiceName
	cfg.TraceExporter = c.Telemetry.TraceExporter
	cfg.MetricExporter = c.Telemetry.MetricExporter
	cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	return cfg
}
