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
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// 🎨 Display configuration
const (
	fetchIndent = 4  // spaces to indent fetch entries
	urlWidth    = 45 // width for the url column
	sizeWidth   = 10 // width for the size column
	statusWidth = 12 // width for the status text
)

// 📊 FetchStatus is the outcome of one fetch
type FetchStatus string

const (
	FetchOK        FetchStatus = "ok"
	FetchRecovered FetchStatus = "recovered"
	FetchFailed    FetchStatus = "failed"
	FetchCancelled FetchStatus = "cancelled"
)

// 🎯 FetchResult represents a finished fetch for logging
type FetchResult struct {
	URL         string      // Requested URL
	Destination string      // File the body was written to, if any
	Bytes       int64       // Body size
	Retries     int         // Retries issued
	Status      FetchStatus // Outcome
	Err         error       // Final error, if any
}

// 📦 Batch represents a group of fetches for logging
type Batch struct {
	Name        string // What is being fetched
	Count       int    // Number of URLs
	Destination string // Output directory
}

// 🎯 Logger handles structured logging with console output
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	mu      sync.Mutex
	batch   *Batch
	results []FetchResult
}

// 🏭 New creates a new logger
func New(console io.Writer, level zerolog.Level) *Logger {
	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)
	return &Logger{
		zlog:    zlog,
		console: console,
	}
}

// 🔑 contextKey is the type for context values
type contextKey struct{}

// 🎯 FromContext gets the logger from context
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKey{}).(*Logger)
	if !ok {
		panic("logger not found in context")
	}
	return logger
}

// 🎯 NewContext adds the logger to context
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// 📝 formatFetchResult formats a fetch result for display
func (l *Logger) formatFetchResult(r FetchResult) string {
	var symbol rune
	var symbolColor color.Attribute
	switch r.Status {
	case FetchOK:
		symbol = '✓'
		symbolColor = color.FgGreen
	case FetchRecovered:
		symbol = '⟳'
		symbolColor = color.FgBlue
	case FetchCancelled:
		symbol = '-'
		symbolColor = color.FgYellow
	default:
		symbol = '✗'
		symbolColor = color.FgRed
	}

	size := ""
	if r.Err == nil {
		size = humanBytes(r.Bytes)
	}

	status := string(r.Status)
	if r.Retries > 0 {
		status = fmt.Sprintf("%s (%d)", status, r.Retries)
	}

	return fmt.Sprintf("%s%s %s %s %s",
		fmt.Sprintf("%*s", fetchIndent, ""),
		color.New(symbolColor).Sprint(string(symbol)),
		fmt.Sprintf("%-*s", urlWidth, r.URL),
		color.New(color.Faint).Sprint(fmt.Sprintf("%-*s", sizeWidth, size)),
		fmt.Sprintf("%-*s", statusWidth, status))
}

// 📝 LogFetch logs a finished fetch
func (l *Logger) LogFetch(ctx context.Context, r FetchResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.results = append(l.results, r)

	fmt.Fprintln(l.console, l.formatFetchResult(r))

	ev := l.zlog.Info()
	if r.Err != nil {
		ev = l.zlog.Warn().Err(r.Err)
	}
	ev.Str("url", r.URL).
		Str("destination", r.Destination).
		Int64("bytes", r.Bytes).
		Int("retries", r.Retries).
		Str("status", string(r.Status)).
		Msg("fetch finished")
}

// 📝 StartBatch starts a new group of fetches
func (l *Logger) StartBatch(ctx context.Context, b Batch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.batch = &b
	l.results = nil

	fmt.Fprintf(l.console, "[fetching into %s]\n",
		color.New(color.FgCyan).Sprint(b.Destination))

	fmt.Fprintf(l.console, "%s %s %s %s\n",
		color.New(color.FgMagenta).Sprint("◆"),
		color.New(color.Bold).Sprint(b.Name),
		color.New(color.Faint).Sprint("•"),
		color.New(color.FgYellow).Sprintf("%d urls", b.Count))

	l.zlog.Info().
		Str("name", b.Name).
		Int("count", b.Count).
		Str("destination", b.Destination).
		Msg("starting fetch batch")
}

// 📝 EndBatch ends the current batch and reports how many fetches failed
func (l *Logger) EndBatch(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.batch == nil {
		return 0
	}

	failed := 0
	for _, r := range l.results {
		if r.Err != nil {
			failed++
		}
	}

	l.zlog.Info().
		Str("name", l.batch.Name).
		Int("fetched", len(l.results)-failed).
		Int("failed", failed).
		Msg("fetch batch complete")

	l.batch = nil
	l.results = nil
	return failed
}

// 📝 LogNewline logs a newline
func (l *Logger) LogNewline() {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.console)
}

// 📝 Header logs a header
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := color.New(color.Bold, color.FgCyan).Sprint("photonet")
	fmt.Fprintf(l.console, "\n%s %s\n\n", name, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Success logs a success message
func (l *Logger) Success(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "✅ %s\n", color.New(color.FgGreen).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Warning logs a warning message
func (l *Logger) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "⚠️  %s\n", color.New(color.FgYellow).Sprint(msg))
	l.zlog.Warn().Msg(msg)
}

// 📝 Error logs an error message
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "❌ %s\n", color.New(color.FgRed).Sprint(msg))
	l.zlog.Error().Msg(msg)
}

// 📝 Info logs an info message
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "ℹ️  %s\n", color.New(color.FgCyan).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// 📝 Warningf logs a formatted warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// 📝 Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// 📝 Successf logs a formatted success message
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}
