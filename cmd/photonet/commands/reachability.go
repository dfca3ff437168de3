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

package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/walteh/photonet/cmd/photonet/opts"
	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/reachability"
)

// NewReachabilityCmd creates the reachability command
func NewReachabilityCmd(o *opts.RootOpts) *cobra.Command {
	var timeout, interval time.Duration

	cmd := &cobra.Command{
		Use:   "reachability HOST[:PORT]",
		Short: "Wait until a host is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunReachability(cmd.Context(), o, args[0], timeout, interval)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", reachability.DefaultInterval, "time between probes")

	return cmd
}

// 📶 RunReachability probes host until it is reachable or timeout passes
func RunReachability(ctx context.Context, o *opts.RootOpts, host string, timeout, interval time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	op := reachability.New(host)
	op.Interval = interval
	op.Prober = &reachability.DialProber{Timeout: interval}

	err := operation.NewRunner(zerolog.Ctx(ctx), o.Manager.NetworkLoop()).Run(ctx, op)
	o.UserLogger.LogReachability(host, op.Flags().String(), err == nil)
	return err
}
