/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the detector's configuration from a
// YAML file, with environment variables overriding individual fields, and
// watches the file for edits so operators can see what changed without a
// restart (§6 configuration keys).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	apperrors "github.com/jordigilh/apisentinel/internal/errors"
)

// Server holds the Control API's listen configuration.
type Server struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Window holds the window-aggregator tuning knobs (§6 WINDOW_SIZE).
type Window struct {
	Size int `yaml:"size"`
}

// RuleThresholds mirrors rules.Thresholds for YAML decoding.
type RuleThresholds struct {
	RateSpikeRPS        float64 `yaml:"rate_spike_rps"`
	ErrorBurstRate      float64 `yaml:"error_burst_rate"`
	BotEntropyMax       float64 `yaml:"bot_entropy_max"`
	BotRepeatedRatioMin float64 `yaml:"bot_repeated_ratio_min"`
	LargePayloadBytes   float64 `yaml:"large_payload_bytes"`
	EndpointScanCount   float64 `yaml:"endpoint_scan_count"`
}

// ScoreWeights mirrors score.Weights for YAML decoding (§9 Open Questions:
// the weight scheme is fixed by this spec, but remains configurable so an
// operator can retune it without a rebuild).
type ScoreWeights struct {
	Rule              float64 `yaml:"rule"`
	Anomaly           float64 `yaml:"anomaly"`
	Failure           float64 `yaml:"failure"`
	NextWindowFailure float64 `yaml:"next_window_failure"`
}

// PriorityBands mirrors score.Bands for YAML decoding.
type PriorityBands struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
}

// Routes holds the per-mode tracked-route allow-lists.
type Routes struct {
	Live []string `yaml:"live"`
	Sim  []string `yaml:"sim"`
}

// ModelPaths locates the four model artifact files (§6).
type ModelPaths struct {
	IsolationForest    string `yaml:"isolation_forest"`
	LogisticRegression string `yaml:"logistic_regression"`
	KMeans             string `yaml:"k_means"`
	FailurePredictor   string `yaml:"failure_predictor"`
}

// Database holds the Postgres connection configuration (§6).
type Database struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Redis holds the Event Bus backplane connection configuration.
type Redis struct {
	Addr string `yaml:"addr"`
}

// Notifier holds the supplemental Slack CRITICAL-detection notifier config.
type Notifier struct {
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackChannel  string `yaml:"slack_channel"`
}

// Logging mirrors the teacher's logging block.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the detector's full configuration (§6).
type Config struct {
	Server               Server         `yaml:"server"`
	Window               Window         `yaml:"window"`
	RuleThresholds       RuleThresholds `yaml:"rule_thresholds"`
	ScoreWeights         ScoreWeights   `yaml:"score_weights"`
	PriorityBands        PriorityBands  `yaml:"priority_bands"`
	Routes               Routes         `yaml:"routes"`
	Models               ModelPaths     `yaml:"models"`
	Database             Database       `yaml:"database"`
	Redis                Redis          `yaml:"redis"`
	Notifier             Notifier       `yaml:"notifier"`
	Logging              Logging        `yaml:"logging"`
	HistoryCapacity      int            `yaml:"history_capacity"`
	SubscriberQueueDepth int            `yaml:"subscriber_queue_depth"`
	ScoringDeadlineMs    int            `yaml:"scoring_deadline_ms"`
}

// Load reads and validates the YAML file at path, then applies any
// APISENTINEL_-prefixed environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "parse config yaml")
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the spec's calibrated defaults (§6), equivalent to an
// empty YAML document.
func Default() *Config {
	return &Config{
		Server:         Server{Addr: ":8080", MetricsAddr: ":9090"},
		Window:         Window{Size: 10},
		RuleThresholds: RuleThresholds{RateSpikeRPS: 15, ErrorBurstRate: 0.5, BotEntropyMax: 0.5, BotRepeatedRatioMin: 0.5, LargePayloadBytes: 5000, EndpointScanCount: 8},
		ScoreWeights:   ScoreWeights{Rule: 0.30, Anomaly: 0.25, Failure: 0.30, NextWindowFailure: 0.15},
		PriorityBands:  PriorityBands{Critical: 0.75, High: 0.55, Medium: 0.35},
		Logging:        Logging{Level: "info", Format: "json"},

		HistoryCapacity:      1000,
		SubscriberQueueDepth: 256,
		ScoringDeadlineMs:    500,
	}
}

func (c *Config) validate() error {
	if c.Window.Size <= 0 {
		return apperrors.New(apperrors.ErrorTypeValidation, "window.size must be positive")
	}
	sum := c.ScoreWeights.Rule + c.ScoreWeights.Anomaly + c.ScoreWeights.Failure + c.ScoreWeights.NextWindowFailure
	if sum < 0.99 || sum > 1.01 {
		return apperrors.Newf(apperrors.ErrorTypeValidation, "score_weights must sum to 1.0, got %.3f", sum)
	}
	if !(c.PriorityBands.Critical > c.PriorityBands.High && c.PriorityBands.High > c.PriorityBands.Medium) {
		return apperrors.New(apperrors.ErrorTypeValidation, "priority_bands must satisfy critical > high > medium")
	}
	if c.HistoryCapacity <= 0 {
		return apperrors.New(apperrors.ErrorTypeValidation, "history_capacity must be positive")
	}
	if c.SubscriberQueueDepth <= 0 {
		return apperrors.New(apperrors.ErrorTypeValidation, "subscriber_queue_depth must be positive")
	}
	return nil
}

// applyEnvOverrides lets an operator override individual fields without
// editing the file, e.g. APISENTINEL_DATABASE_DSN, APISENTINEL_SERVER_ADDR.
func applyEnvOverrides(c *Config) {
	if v, ok := os.LookupEnv("APISENTINEL_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := os.LookupEnv("APISENTINEL_DATABASE_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok := os.LookupEnv("APISENTINEL_REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("APISENTINEL_WINDOW_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Window.Size = n
		}
	}
	if v, ok := os.LookupEnv("APISENTINEL_LOG_LEVEL"); ok {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Watch starts an fsnotify watcher on path and invokes onChange (with the
// freshly reloaded Config) whenever the file is written. Hot reload is
// observational only: live window/aggregator state is never mutated
// mid-flight, by design (§9 Open Questions).
func Watch(path string, onChange func(*Config, error)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				onChange(cfg, err)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher, nil
}
