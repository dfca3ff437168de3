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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/photonet/pkg/httpop"
	"github.com/walteh/photonet/pkg/netmgr"
	"github.com/walteh/photonet/pkg/retry"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		config      string
		env         map[string]string
		wantErr     bool
		errContains string
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "yaml_full",
			file: "photonet.yaml",
			config: `
user_agent: gallery/2.0
transfer_width: 2
compute_width: 3
max_response_size: 1024
request_timeout: 30s
photo_dir: /tmp/gallery
log_level: debug
retry:
  max_retries: 5
  backoff: exponential
  initial_delay: 500ms
  max_delay: 1m
  factor: 3
  reachability: false
  reachability_interval: 250ms
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "gallery/2.0", cfg.UserAgent, "user agent should match")
				assert.Equal(t, 2, cfg.TransferWidth, "transfer width should match")
				assert.Equal(t, 3, cfg.ComputeWidth, "compute width should match")
				assert.Equal(t, int64(1024), cfg.MaxResponseSize, "max response size should match")
				assert.Equal(t, 30*time.Second, cfg.RequestTimeoutDuration(), "timeout should be parsed")
				assert.Equal(t, "/tmp/gallery", cfg.PhotoDir, "photo dir should match")
				assert.Equal(t, zerolog.DebugLevel, cfg.Level(), "level should be parsed")

				policy := cfg.RetryPolicy()
				assert.Equal(t, 5, policy.MaxRetries, "max retries should match")
				assert.False(t, policy.Reachability, "reachability should be off")
				assert.Equal(t, 250*time.Millisecond, policy.ReachabilityInterval, "interval should match")
				assert.Equal(t, retry.ExponentialBackoff{Initial: 500 * time.Millisecond, Max: time.Minute, Factor: 3}, policy.Backoff)
			},
		},
		{
			name:   "yaml_empty_uses_defaults",
			file:   "photonet.yml",
			config: ``,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, netmgr.DefaultUserAgent, cfg.UserAgent)
				assert.Equal(t, netmgr.DefaultTransferWidth, cfg.TransferWidth)
				assert.Equal(t, httpop.DefaultMaximumResponseSize, cfg.MaxResponseSize)
				assert.Equal(t, time.Minute, cfg.RequestTimeoutDuration())
				assert.Equal(t, zerolog.InfoLevel, cfg.Level())

				policy := cfg.RetryPolicy()
				assert.Equal(t, -1, policy.MaxRetries, "retries default to unlimited")
				assert.True(t, policy.Reachability, "reachability gate defaults on")
				assert.Equal(t, retry.DefaultBackoff, policy.Backoff)
			},
		},
		{
			name:        "yaml_unknown_field",
			file:        "photonet.yaml",
			config:      "transfer_widht: 3\n",
			wantErr:     true,
			errContains: "transfer_widht",
		},
		{
			name: "json_constant_backoff",
			file: "photonet.json",
			config: `{
				"transfer_width": 8,
				"retry": {"max_retries": 0, "backoff": "constant", "initial_delay": "2s"}
			}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.TransferWidth)
				policy := cfg.RetryPolicy()
				assert.Equal(t, 0, policy.MaxRetries, "explicit zero is kept")
				assert.Equal(t, retry.ConstantBackoff(2*time.Second), policy.Backoff)
			},
		},
		{
			name:        "json_unknown_field",
			file:        "photonet.json",
			config:      `{"transfers": 8}`,
			wantErr:     true,
			errContains: "unknown field",
		},
		{
			name:        "json_trailing_data",
			file:        "photonet.json",
			config:      `{"transfer_width": 2} {"transfer_width": 3}`,
			wantErr:     true,
			errContains: "unexpected data after the config object",
		},
		{
			name: "hcl_with_env",
			file: "photonet.hcl",
			env:  map[string]string{"PHOTONET_TEST_AGENT": "hcl-agent"},
			config: `
user_agent     = "gallery/${env.PHOTONET_TEST_AGENT}"
transfer_width = 6
photo_dir      = "/tmp/hcl"

retry {
  max_retries = 2
  backoff     = "step"
}
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "gallery/hcl-agent", cfg.UserAgent, "env should be interpolated")
				assert.Equal(t, 6, cfg.TransferWidth)
				assert.Equal(t, "/tmp/hcl", cfg.PhotoDir)
				assert.Equal(t, 2, cfg.RetryPolicy().MaxRetries)
			},
		},
		{
			name:        "bad_backoff",
			file:        "photonet.yaml",
			config:      "retry:\n  backoff: fibonacci\n",
			wantErr:     true,
			errContains: "unknown backoff",
		},
		{
			name:        "bad_duration",
			file:        "photonet.yaml",
			config:      "request_timeout: soon\n",
			wantErr:     true,
			errContains: "request_timeout",
		},
		{
			name:        "negative_width",
			file:        "photonet.yaml",
			config:      "transfer_width: -1\n",
			wantErr:     true,
			errContains: "transfer_width",
		},
		{
			name:        "bad_log_level",
			file:        "photonet.yaml",
			config:      "log_level: loud\n",
			wantErr:     true,
			errContains: "log_level",
		},
		{
			name:        "unsupported_extension",
			file:        "photonet.toml",
			config:      "transfer_width = 1\n",
			wantErr:     true,
			errContains: "no parser found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.config), 0o644), "writing config should succeed")

			ctx := zerolog.New(zerolog.NewTestWriter(t)).WithContext(context.Background())
			cfg, err := Load(ctx, path)

			if tt.wantErr {
				require.Error(t, err, "should error")
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains, "error should contain expected message")
				}
				return
			}

			require.NoError(t, err, "should not error")
			assert.Equal(t, path, cfg.Location())
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, netmgr.DefaultTransferWidth, cfg.TransferWidth)
	assert.Equal(t, filepath.Join(os.TempDir(), "photonet"), cfg.PhotoDir)
	assert.Equal(t, time.Minute, cfg.HTTPClient().Timeout)

	opts := cfg.ManagerOptions(nil)
	assert.Equal(t, cfg.TransferWidth, opts.TransferWidth)
	assert.Equal(t, cfg.UserAgent, opts.UserAgent)
	assert.Contains(t, cfg.String(), "retries=unlimited")
}

func TestGetParser(t *testing.T) {
	tests := []struct {
		file string
		want Parser
	}{
		{file: "a.yaml", want: &YAMLParser{}},
		{file: "a.yml", want: &YAMLParser{}},
		{file: "a.json", want: &JSONParser{}},
		{file: "A.JSON", want: &JSONParser{}},
		{file: "photos.yaml.bak", want: nil},
		{file: "a.hcl", want: &HCLParser{}},
		{file: "a.ini", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got := GetParser(tt.file)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.IsType(t, tt.want, got)
		})
	}
}
