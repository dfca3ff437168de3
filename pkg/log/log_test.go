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

package log

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func TestLogger(t *testing.T) {
	// Disable color for testing
	color.NoColor = true
	defer func() { color.NoColor = false }()

	tests := []struct {
		name     string
		op       func(t *testing.T, logger *Logger)
		wantLogs []string
	}{
		{
			name: "log_fetch",
			op: func(t *testing.T, logger *Logger) {
				logger.LogFetch(context.Background(), FetchResult{
					URL:    "http://photos/1.jpg",
					Bytes:  2048,
					Status: FetchOK,
				})
			},
			wantLogs: []string{
				"✓ http://photos/1.jpg                           2.0 KiB    ok",
			},
		},
		{
			name: "log_batch",
			op: func(t *testing.T, logger *Logger) {
				logger.StartBatch(context.Background(), Batch{
					Name:        "photos",
					Count:       3,
					Destination: "/tmp/photos",
				})
			},
			wantLogs: []string{
				"[fetching into /tmp/photos]",
				"◆ photos • 3 urls",
			},
		},
		{
			name: "log_messages",
			op: func(t *testing.T, logger *Logger) {
				logger.Info("info message")
				logger.Warning("warning message")
				logger.Error("error message")
				logger.Success("success message")
			},
			wantLogs: []string{
				"ℹ️  info message",
				"⚠️  warning message",
				"❌ error message",
				"✅ success message",
			},
		},
		{
			name: "log_formatted_messages",
			op: func(t *testing.T, logger *Logger) {
				logger.Infof("info %s", "test")
				logger.Warningf("warning %s", "test")
				logger.Errorf("error %s", "test")
				logger.Successf("success %s", "test")
			},
			wantLogs: []string{
				"ℹ️  info test",
				"⚠️  warning test",
				"❌ error test",
				"✅ success test",
			},
		},
		{
			name: "log_header",
			op: func(t *testing.T, logger *Logger) {
				logger.Header("fetching photos")
			},
			wantLogs: []string{
				"photonet • fetching photos",
			},
		},
		{
			name: "log_newline",
			op: func(t *testing.T, logger *Logger) {
				logger.Info("first")
				logger.LogNewline()
				logger.Info("second")
			},
			wantLogs: []string{
				"ℹ️  first",
				"",
				"ℹ️  second",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := New(buf, zerolog.Disabled)

			tt.op(t, logger)

			output := strings.TrimSpace(buf.String())
			lines := strings.Split(output, "\n")

			require.Equal(t, len(tt.wantLogs), len(lines), "number of log lines should match")
			for i, want := range tt.wantLogs {
				assert.Equal(t, want, strings.TrimSpace(lines[i]), "log line %d should match", i)
			}
		})
	}
}

func TestLoggerContext(t *testing.T) {
	logger := New(io.Discard, zerolog.InfoLevel)

	ctx := NewContext(context.Background(), logger)

	got := FromContext(ctx)
	assert.Same(t, logger, got, "logger from context should be the same instance")

	assert.Panics(t, func() {
		FromContext(context.Background())
	}, "FromContext should panic when logger is missing")
}

func TestFetchResultFormatting(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	tests := []struct {
		name string
		r    FetchResult
		want string
	}{
		{
			name: "ok",
			r:    FetchResult{URL: "http://a/1", Bytes: 10, Status: FetchOK},
			want: "✓ http://a/1",
		},
		{
			name: "recovered_shows_retries",
			r:    FetchResult{URL: "http://a/2", Bytes: 3 << 20, Retries: 2, Status: FetchRecovered},
			want: "⟳ http://a/2",
		},
		{
			name: "failed_has_no_size",
			r:    FetchResult{URL: "http://a/3", Status: FetchFailed, Err: errors.New("boom")},
			want: "✗ http://a/3",
		},
		{
			name: "cancelled",
			r:    FetchResult{URL: "http://a/4", Status: FetchCancelled, Err: errors.New("cancelled")},
			want: "- http://a/4",
		},
	}

	logger := New(io.Discard, zerolog.Disabled)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.TrimSpace(logger.formatFetchResult(tt.r))
			assert.True(t, strings.HasPrefix(got, tt.want), "got %q", got)
			switch tt.name {
			case "recovered_shows_retries":
				assert.Contains(t, got, "3.0 MiB")
				assert.Contains(t, got, "recovered (2)")
			case "failed_has_no_size":
				assert.NotContains(t, got, " B ")
			}
		})
	}
}

func TestEndBatchCountsFailures(t *testing.T) {
	logger := New(io.Discard, zerolog.Disabled)
	ctx := context.Background()

	assert.Equal(t, 0, logger.EndBatch(ctx), "no batch started")

	logger.StartBatch(ctx, Batch{Name: "photos", Count: 3})
	logger.LogFetch(ctx, FetchResult{URL: "a", Status: FetchOK})
	logger.LogFetch(ctx, FetchResult{URL: "b", Status: FetchFailed, Err: errors.New("404")})
	logger.LogFetch(ctx, FetchResult{URL: "c", Status: FetchRecovered, Retries: 1})

	assert.Equal(t, 1, logger.EndBatch(ctx))
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 MiB", humanBytes(3<<19))
}

func TestUserLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := zerolog.Nop().WithContext(context.Background())
	u := NewUserLoggerTo(ctx, buf)

	u.LogRetryState("http://photos/1.jpg", "waiting-to-retry", 2)
	u.LogReachability("photos.example.com", "reachable", true)
	u.LogReachability("photos.example.com", "connection-required", false)
	u.LogThumbnail("/tmp/thumb.png", 60, 40)

	out := buf.String()
	assert.Contains(t, out, "waiting-to-retry http://photos/1.jpg (retry 2)")
	assert.Contains(t, out, "photos.example.com is reachable (reachable)")
	assert.Contains(t, out, "photos.example.com is not reachable (connection-required)")
	assert.Contains(t, out, "wrote 60x40 thumbnail to /tmp/thumb.png")
}
