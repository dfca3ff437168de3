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

package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/cmd/photonet/opts"
	"github.com/walteh/photonet/pkg/config"
	"github.com/walteh/photonet/pkg/log"
	"github.com/walteh/photonet/pkg/netmgr"
	"github.com/walteh/photonet/pkg/runloop"
)

var (
	// Flags
	configFile string
	debug      bool
)

// newRootOpts creates a new RootOpts with initialized dependencies
func newRootOpts(ctx context.Context) (*opts.RootOpts, context.Context, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(ctx, configFile)
		if err != nil {
			return nil, ctx, errors.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	level := cfg.Level()
	if debug {
		level = zerolog.DebugLevel
	}
	logger := setupLogging(level)
	ctx = logger.WithContext(ctx)

	mgrOpts := cfg.ManagerOptions(&logger)
	mgrOpts.Registerer = prometheus.DefaultRegisterer
	manager := netmgr.New(mgrOpts)
	netmgr.SetShared(manager)

	return &opts.RootOpts{
		Config:     cfg,
		Manager:    manager,
		Client:     cfg.HTTPClient(),
		Console:    log.New(os.Stdout, level),
		UserLogger: log.NewUserLogger(ctx),
		Loop:       runloop.New("cli"),
	}, ctx, nil
}

// addRootFlags adds shared flags to the root command
func addRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (.yaml, .json or .hcl)")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

// setupLogging builds the stderr logger used for diagnostics
func setupLogging(level zerolog.Level) zerolog.Logger {
	zerolog.SetGlobalLevel(level)
	return zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})).Level(level).With().Timestamp().Logger()
}
