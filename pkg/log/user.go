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
	"os"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
)

// 📢 UserLogger prints progress of long-running operations as it happens
type UserLogger struct {
	log zerolog.Logger // for debug/error logging
	out io.Writer
}

// 🎯 NewUserLogger creates a user logger writing to stdout
func NewUserLogger(ctx context.Context) *UserLogger {
	return NewUserLoggerTo(ctx, os.Stdout)
}

// NewUserLoggerTo creates a user logger writing to out
func NewUserLoggerTo(ctx context.Context, out io.Writer) *UserLogger {
	return &UserLogger{
		log: *zerolog.Ctx(ctx),
		out: out,
	}
}

func (u *UserLogger) printer(base pterm.PrefixPrinter, prefix string) *pterm.PrefixPrinter {
	return base.WithPrefix(pterm.Prefix{Text: prefix, Style: base.Prefix.Style}).WithWriter(u.out)
}

// 🔄 LogRetryState reports a change in a fetch's retry state
func (u *UserLogger) LogRetryState(url, state string, retries int) {
	msg := fmt.Sprintf("%s %s", state, url)
	if retries > 0 {
		msg += fmt.Sprintf(" (retry %d)", retries)
	}

	switch state {
	case "waiting-to-retry":
		u.printer(pterm.Warning, "⏳").Println(msg)
	case "finished":
		u.printer(pterm.Success, "🏁").Println(msg)
	default:
		u.printer(pterm.Info, "🔄").Println(msg)
	}
	u.log.Debug().Str("url", url).Str("state", state).Int("retries", retries).Msg("retry state changed")
}

// 📶 LogReachability reports the flags observed for a host
func (u *UserLogger) LogReachability(host, flags string, reached bool) {
	if reached {
		u.printer(pterm.Success, "📶").Printfln("%s is reachable (%s)", host, flags)
		u.log.Info().Str("host", host).Str("flags", flags).Msg("host reachable")
		return
	}
	u.printer(pterm.Warning, "📵").Printfln("%s is not reachable (%s)", host, flags)
	u.log.Warn().Str("host", host).Str("flags", flags).Msg("host not reachable")
}

// 🖼️ LogThumbnail reports a written thumbnail
func (u *UserLogger) LogThumbnail(path string, width, height int) {
	u.printer(pterm.Success, "🖼️").Printfln("wrote %dx%d thumbnail to %s", width, height, path)
	u.log.Info().Str("path", path).Int("width", width).Int("height", height).Msg("thumbnail written")
}
