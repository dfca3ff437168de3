// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/walteh/photonet/pkg/httpop"
	"github.com/walteh/photonet/pkg/netmgr"
	"github.com/walteh/photonet/pkg/retry"
)

// 🔌 Parser is the interface for config parsers
type Parser interface {
	// 📝 Parse parses the config from bytes
	Parse(ctx context.Context, data []byte) (*Config, error)

	// 🔍 CanParse checks if this parser can handle the given file
	CanParse(filename string) bool
}

var (
	// 🗺️ parsers is a list of available parsers
	parsers []Parser
)

// 📝 Register registers a parser
func Register(p Parser) {
	parsers = append(parsers, p)
}

// 🎯 GetParser returns a parser that can handle the given file
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// Backoff kinds accepted by retry.backoff.
const (
	BackoffStep        = "step"
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// 🔁 RetryConfig configures retrying fetches
type RetryConfig struct {
	MaxRetries           *int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty" hcl:"max_retries,optional"`
	Backoff              string  `json:"backoff,omitempty" yaml:"backoff,omitempty" hcl:"backoff,optional"`
	InitialDelay         string  `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty" hcl:"initial_delay,optional"`
	MaxDelay             string  `json:"max_delay,omitempty" yaml:"max_delay,omitempty" hcl:"max_delay,optional"`
	Factor               float64 `json:"factor,omitempty" yaml:"factor,omitempty" hcl:"factor,optional"`
	Reachability         *bool   `json:"reachability,omitempty" yaml:"reachability,omitempty" hcl:"reachability,optional"`
	ReachabilityInterval string  `json:"reachability_interval,omitempty" yaml:"reachability_interval,omitempty" hcl:"reachability_interval,optional"`

	initialDelay         time.Duration
	maxDelay             time.Duration
	reachabilityInterval time.Duration
}

// 📚 Config represents the complete configuration
type Config struct {
	UserAgent       string       `json:"user_agent,omitempty" yaml:"user_agent,omitempty" hcl:"user_agent,optional"`
	TransferWidth   int          `json:"transfer_width,omitempty" yaml:"transfer_width,omitempty" hcl:"transfer_width,optional"`
	ComputeWidth    int          `json:"compute_width,omitempty" yaml:"compute_width,omitempty" hcl:"compute_width,optional"`
	MaxResponseSize int64        `json:"max_response_size,omitempty" yaml:"max_response_size,omitempty" hcl:"max_response_size,optional"`
	RequestTimeout  string       `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty" hcl:"request_timeout,optional"`
	PhotoDir        string       `json:"photo_dir,omitempty" yaml:"photo_dir,omitempty" hcl:"photo_dir,optional"`
	Retry           *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty" hcl:"retry,block"`
	LogLevel        string       `json:"log_level,omitempty" yaml:"log_level,omitempty" hcl:"log_level,optional"`

	requestTimeout time.Duration
	level          zerolog.Level
	location       string
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// 🎯 Load loads the configuration from a file
func Load(ctx context.Context, path string) (*Config, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("no parser found for file: %s", path)
	}

	cfg, err := p.Parse(ctx, data)
	if err != nil {
		return nil, errors.Errorf("parsing config: %w", err)
	}
	cfg.location = path

	logger.Debug().Str("path", path).Stringer("config", cfg).Msg("configuration loaded")

	return cfg, nil
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// 🔍 Validate fills defaults and checks the configuration
func (cfg *Config) Validate() error {
	if cfg.TransferWidth < 0 {
		return errors.Errorf("transfer_width must not be negative")
	}
	if cfg.ComputeWidth < 0 {
		return errors.Errorf("compute_width must not be negative")
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = netmgr.DefaultUserAgent
	}
	if cfg.TransferWidth == 0 {
		cfg.TransferWidth = netmgr.DefaultTransferWidth
	}
	if cfg.MaxResponseSize == 0 {
		cfg.MaxResponseSize = httpop.DefaultMaximumResponseSize
	}
	if cfg.PhotoDir == "" {
		cfg.PhotoDir = filepath.Join(os.TempDir(), "photonet")
	}
	cfg.PhotoDir = filepath.Clean(cfg.PhotoDir)

	var err error
	if cfg.requestTimeout, err = parseDuration("request_timeout", cfg.RequestTimeout, time.Minute); err != nil {
		return err
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = zerolog.InfoLevel.String()
	}
	if cfg.level, err = zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return errors.Errorf("log_level: %w", err)
	}

	if cfg.Retry == nil {
		cfg.Retry = &RetryConfig{}
	}
	if err := cfg.Retry.validate(); err != nil {
		return errors.Errorf("retry: %w", err)
	}

	return nil
}

func (r *RetryConfig) validate() error {
	if r.MaxRetries == nil {
		unlimited := -1
		r.MaxRetries = &unlimited
	}
	if r.Reachability == nil {
		on := true
		r.Reachability = &on
	}

	r.Backoff = strings.ToLower(r.Backoff)
	if r.Backoff == "" {
		r.Backoff = BackoffStep
	}
	switch r.Backoff {
	case BackoffStep, BackoffConstant, BackoffExponential:
	default:
		return errors.Errorf("unknown backoff %q (want %s, %s or %s)", r.Backoff, BackoffStep, BackoffConstant, BackoffExponential)
	}

	if r.Factor < 0 {
		return errors.Errorf("factor must not be negative")
	}

	var err error
	if r.initialDelay, err = parseDuration("initial_delay", r.InitialDelay, time.Second); err != nil {
		return err
	}
	if r.maxDelay, err = parseDuration("max_delay", r.MaxDelay, time.Hour); err != nil {
		return err
	}
	if r.reachabilityInterval, err = parseDuration("reachability_interval", r.ReachabilityInterval, 2*time.Second); err != nil {
		return err
	}
	return nil
}

// Location is the file the configuration was loaded from, if any.
func (cfg *Config) Location() string {
	return cfg.location
}

// Level is the parsed log level.
func (cfg *Config) Level() zerolog.Level {
	return cfg.level
}

// RequestTimeoutDuration is the parsed request timeout; zero disables it.
func (cfg *Config) RequestTimeoutDuration() time.Duration {
	return cfg.requestTimeout
}

// HTTPClient returns a client applying the request timeout.
func (cfg *Config) HTTPClient() *http.Client {
	return &http.Client{Timeout: cfg.requestTimeout}
}

// ManagerOptions maps the configuration onto an operation manager.
func (cfg *Config) ManagerOptions(logger *zerolog.Logger) netmgr.Options {
	return netmgr.Options{
		TransferWidth: cfg.TransferWidth,
		ComputeWidth:  cfg.ComputeWidth,
		UserAgent:     cfg.UserAgent,
		Logger:        logger,
	}
}

// RetryPolicy maps the retry section onto a retry policy.
func (cfg *Config) RetryPolicy() retry.Policy {
	r := cfg.Retry
	policy := retry.Policy{
		MaxRetries:           *r.MaxRetries,
		Reachability:         *r.Reachability,
		ReachabilityInterval: r.reachabilityInterval,
	}

	switch r.Backoff {
	case BackoffConstant:
		policy.Backoff = retry.ConstantBackoff(r.initialDelay)
	case BackoffExponential:
		policy.Backoff = retry.ExponentialBackoff{Initial: r.initialDelay, Max: r.maxDelay, Factor: r.Factor}
	default:
		policy.Backoff = retry.DefaultBackoff
	}
	return policy
}

// 📝 String returns a string representation of the config
func (cfg *Config) String() string {
	retries := "unlimited"
	if cfg.Retry != nil && cfg.Retry.MaxRetries != nil && *cfg.Retry.MaxRetries >= 0 {
		retries = fmt.Sprint(*cfg.Retry.MaxRetries)
	}
	backoff := ""
	if cfg.Retry != nil {
		backoff = cfg.Retry.Backoff
	}
	return fmt.Sprintf("transfers=%d retries=%s backoff=%s photos=%s", cfg.TransferWidth, retries, backoff, cfg.PhotoDir)
}

// decoded validates a freshly decoded config
func decoded(cfg *Config, format string, err error) (*Config, error) {
	if err != nil {
		return nil, errors.Errorf("parsing %s: %w", format, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func hasExt(filename string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// 🔧 YAMLParser implements the Parser interface for YAML files
type YAMLParser struct{}

// 🔧 JSONParser implements the Parser interface for JSON files
type JSONParser struct{}

func init() {
	Register(&YAMLParser{})
	Register(&JSONParser{})
}

func (p *YAMLParser) CanParse(filename string) bool {
	return hasExt(filename, ".yaml", ".yml")
}

// An empty YAML document is a config with every default.
func (p *YAMLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(&cfg)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return decoded(&cfg, "YAML", err)
}

func (p *JSONParser) CanParse(filename string) bool {
	return hasExt(filename, ".json")
}

// JSON documents must hold exactly one object.
func (p *JSONParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&cfg)
	if err == nil && decoder.More() {
		err = errors.New("unexpected data after the config object")
	}
	return decoded(&cfg, "JSON", err)
}
