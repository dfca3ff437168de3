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
	"image"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/cmd/photonet/opts"
	"github.com/walteh/photonet/pkg/photo"
)

// NewThumbnailCmd creates the thumbnail command
func NewThumbnailCmd(o *opts.RootOpts) *cobra.Command {
	var output string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "thumbnail URL",
		Short: "Fetch an image and write its gallery thumbnail as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunThumbnail(cmd.Context(), o, args[0], output, timeout)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "thumbnail.png", "file to write the thumbnail to")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")

	return cmd
}

type thumbnailResult struct {
	png    []byte
	bounds image.Rectangle
	err    error
}

// 🖼️ RunThumbnail fetches rawURL as a photo thumbnail and writes it to output
func RunThumbnail(ctx context.Context, o *opts.RootOpts, rawURL, output string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p := photo.New(photo.Properties{
		ID:                  "cli",
		DisplayName:         rawURL,
		RemoteThumbnailPath: rawURL,
	}, photo.Options{
		Manager: o.Manager,
		Loop:    o.Loop,
		Policy:  o.Config.RetryPolicy(),
		Client:  o.Client,
		Logger:  zerolog.Ctx(ctx),
	})

	results := make(chan thumbnailResult, 1)
	o.Loop.Post(func() {
		p.AddObserver(photo.ObserverFunc(func(p *photo.Photo, ev photo.Event) {
			switch ev {
			case photo.EventThumbnailReady:
				results <- thumbnailResult{png: p.ThumbnailImage(), bounds: p.ThumbnailBounds()}
			case photo.EventThumbnailError:
				results <- thumbnailResult{err: p.ThumbnailError()}
			}
		}))
		p.ThumbnailImage()
	})

	var res thumbnailResult
	select {
	case res = <-results:
	case <-ctx.Done():
		o.Loop.Sync(p.Stop)
		return errors.Errorf("waiting for thumbnail: %w", ctx.Err())
	}
	if res.err != nil {
		return errors.Errorf("fetching thumbnail: %w", res.err)
	}

	if err := os.WriteFile(output, res.png, 0o644); err != nil {
		return errors.Errorf("writing thumbnail: %w", err)
	}

	o.UserLogger.LogThumbnail(output, res.bounds.Dx(), res.bounds.Dy())
	return nil
}
