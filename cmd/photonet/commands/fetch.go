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
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/walteh/photonet/cmd/photonet/opts"
	"github.com/walteh/photonet/pkg/log"
	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/retry"
)

// FetchOptions tune a fetch run
type FetchOptions struct {
	// OutputDir receives one file per URL; empty keeps bodies in memory
	OutputDir string
	Accept    []string
	// Retries overrides the configured retry limit when set
	Retries *int
	MaxSize int64
}

// NewFetchCmd creates the fetch command
func NewFetchCmd(o *opts.RootOpts) *cobra.Command {
	fo := FetchOptions{}
	var retries int

	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Fetch URLs, retrying transient failures",
		Long: `Fetch every URL concurrently through the transfer pool.

Failed attempts with a retryable cause (timeouts, 408, 429, 5xx) are retried
with backoff, waiting for the host to become reachable when that is enabled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("retries") {
				fo.Retries = &retries
			}
			return RunFetch(cmd.Context(), o, fo, args)
		},
	}

	cmd.Flags().StringVarP(&fo.OutputDir, "output", "o", "", "directory to write response bodies into")
	cmd.Flags().StringSliceVar(&fo.Accept, "accept", nil, "acceptable content types (e.g. image/*)")
	cmd.Flags().IntVar(&retries, "retries", -1, "maximum retries per URL, negative for unlimited")
	cmd.Flags().Int64Var(&fo.MaxSize, "max-size", 0, "maximum response size in bytes")

	return cmd
}

// 🚚 RunFetch fetches urls and reports one line per URL. It fails when any
// fetch fails.
func RunFetch(ctx context.Context, o *opts.RootOpts, fo FetchOptions, urls []string) error {
	logger := zerolog.Ctx(ctx)

	policy := o.Config.RetryPolicy()
	if fo.Retries != nil {
		policy.MaxRetries = *fo.Retries
	}

	dest := fo.OutputDir
	if dest != "" {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return errors.Errorf("creating output directory: %w", err)
		}
	} else {
		dest = "memory"
	}

	o.Console.StartBatch(ctx, log.Batch{Name: "fetch", Count: len(urls), Destination: dest})

	peers := retry.NewPeerGroup()
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range urls {
		i, raw := i, raw
		g.Go(func() error {
			res, err := fetchOne(gctx, o, fo, policy, peers, i, raw)
			if err != nil {
				return err
			}
			o.Console.LogFetch(gctx, res)
			return nil
		})
	}

	err := g.Wait()
	failed := o.Console.EndBatch(ctx)
	if err != nil {
		return err
	}
	if failed > 0 {
		return errors.Errorf("%d of %d fetches failed", failed, len(urls))
	}

	logger.Debug().Int("count", len(urls)).Msg("all fetches succeeded")
	return nil
}

func fetchOne(ctx context.Context, o *opts.RootOpts, fo FetchOptions, policy retry.Policy, peers *retry.PeerGroup, i int, raw string) (log.FetchResult, error) {
	req, err := o.Manager.RequestToGetURL(raw)
	if err != nil {
		return log.FetchResult{}, err
	}

	op := retry.New(o.Manager, req)
	op.Policy = policy
	op.Peers = peers
	op.Client = o.Client
	op.AcceptableContentTypes = fo.Accept
	op.MaximumResponseSize = o.Config.MaxResponseSize
	if fo.MaxSize > 0 {
		op.MaximumResponseSize = fo.MaxSize
	}
	if fo.OutputDir != "" {
		op.ResponseFilePath = filepath.Join(fo.OutputDir, outputName(req.URL.Path, i))
	}
	op.OnStateChange(func(op *retry.Operation) {
		o.UserLogger.LogRetryState(raw, op.RetryState().String(), op.RetryCount())
	})

	done := make(chan struct{})
	if err := o.Manager.AddManagementOperation(op, o.Loop, func(operation.Operation) { close(done) }); err != nil {
		return log.FetchResult{}, errors.Errorf("queueing %s: %w", raw, err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		o.Manager.Cancel(op)
		<-op.Done()
	}

	res := log.FetchResult{
		URL:         raw,
		Destination: op.ResponseFilePath,
		Retries:     op.RetryCount(),
		Err:         op.Err(),
	}

	switch {
	case op.IsCancelled():
		res.Status = log.FetchCancelled
	case res.Err != nil:
		res.Status = log.FetchFailed
	case res.Retries > 0:
		res.Status = log.FetchRecovered
	default:
		res.Status = log.FetchOK
	}

	if res.Err == nil {
		if res.Destination != "" {
			if fi, err := os.Stat(res.Destination); err == nil {
				res.Bytes = fi.Size()
			}
		} else {
			res.Bytes = int64(len(op.ResponseContent()))
		}
	}

	return res, nil
}

// outputName picks the file name for the i-th URL
func outputName(urlPath string, i int) string {
	base := path.Base(urlPath)
	if base == "" || base == "/" || base == "." {
		return fmt.Sprintf("fetch-%d", i)
	}
	return fmt.Sprintf("%d-%s", i, base)
}
