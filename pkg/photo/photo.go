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

// Package photo models a gallery photo whose thumbnail and full image are
// fetched on demand through the operation manager.
package photo

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/pkg/netmgr"
	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/retry"
	"github.com/walteh/photonet/pkg/runloop"
)

// Event identifies what changed on a Photo.
type Event int

const (
	EventUpdated Event = iota
	EventThumbnailReady
	EventPhotoReady
	EventPhotoError
	EventThumbnailError
)

func (e Event) String() string {
	switch e {
	case EventUpdated:
		return "updated"
	case EventThumbnailReady:
		return "thumbnail-ready"
	case EventPhotoReady:
		return "photo-ready"
	case EventPhotoError:
		return "photo-error"
	case EventThumbnailError:
		return "thumbnail-error"
	default:
		return "unknown"
	}
}

// Observer is notified of changes on the photo's owner loop.
type Observer interface {
	PhotoChanged(p *Photo, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p *Photo, ev Event)

func (f ObserverFunc) PhotoChanged(p *Photo, ev Event) {
	f(p, ev)
}

// Properties are the fields a gallery feed provides for a photo.
type Properties struct {
	ID                  string
	DisplayName         string
	Date                time.Time
	RemotePhotoPath     string
	RemoteThumbnailPath string
}

// Options wire a Photo to the pipeline.
type Options struct {
	Manager *netmgr.Manager
	// Loop is the owner loop; every method must be called on it.
	Loop *runloop.Loop
	// BaseURL resolves the remote paths.
	BaseURL *url.URL
	// PhotoDir receives full-size photos.
	PhotoDir string
	Policy   retry.Policy
	Client   *http.Client
	// MaxPhotoSize bounds full-size downloads; zero keeps the transfer default.
	MaxPhotoSize int64
	Logger       *zerolog.Logger
}

type resizeOperation struct {
	*operation.Block
	png    []byte
	bounds image.Rectangle
}

// 📷 Photo is an in-memory gallery record. Its thumbnail is fetched the
// first time it is asked for; the full photo is fetched while at least one
// client asserts it is needed.
//
// A Photo is confined to its owner loop.
type Photo struct {
	opts   Options
	logger zerolog.Logger
	props  Properties

	observers []Observer

	thumbnail       []byte
	thumbnailSize   image.Rectangle
	thumbnailFail   error
	thumbnailGet    *retry.Operation
	thumbnailShrink *resizeOperation

	photoNeeded    int
	photoGet       *retry.Operation
	photoGetPath   string
	photoGetError  error
	localPhotoPath string
}

// 🏭 New creates a photo record.
func New(props Properties, opts Options) *Photo {
	if opts.Loop == nil {
		opts.Loop = runloop.Default()
	}
	if opts.Manager == nil {
		opts.Manager = netmgr.Shared()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Photo{
		opts:   opts,
		logger: logger.With().Str("photo", props.ID).Logger(),
		props:  props,
	}
}

func (p *Photo) ID() string                  { return p.props.ID }
func (p *Photo) DisplayName() string         { return p.props.DisplayName }
func (p *Photo) Date() time.Time             { return p.props.Date }
func (p *Photo) RemotePhotoPath() string     { return p.props.RemotePhotoPath }
func (p *Photo) RemoteThumbnailPath() string { return p.props.RemoteThumbnailPath }

// LocalPhotoPath is the downloaded full-size photo, or "" if there is none.
func (p *Photo) LocalPhotoPath() string {
	return p.localPhotoPath
}

// PhotoGetting reports whether the full photo is being fetched.
func (p *Photo) PhotoGetting() bool {
	return p.photoGet != nil
}

// PhotoGetError is the error of the last full photo fetch.
func (p *Photo) PhotoGetError() error {
	return p.photoGetError
}

// ThumbnailError is why the thumbnail could not be produced, if it could not.
func (p *Photo) ThumbnailError() error {
	return p.thumbnailFail
}

// ThumbnailBounds is the size of the cached thumbnail.
func (p *Photo) ThumbnailBounds() image.Rectangle {
	return p.thumbnailSize
}

// AddObserver registers o for change notifications.
func (p *Photo) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

func (p *Photo) notify(ev Event) {
	p.logger.Debug().Stringer("event", ev).Msg("photo changed")
	for _, o := range p.observers {
		o.PhotoChanged(p, ev)
	}
}

// 🔄 UpdateWithProperties applies fresh feed data. A changed remote path
// drops whatever was cached or in flight for it.
func (p *Photo) UpdateWithProperties(props Properties) {
	if props == p.props {
		return
	}
	old := p.props
	p.props = props

	if old.RemoteThumbnailPath != props.RemoteThumbnailPath {
		p.stopThumbnail()
		p.thumbnail = nil
		p.thumbnailSize = image.Rectangle{}
		p.thumbnailFail = nil
	}

	if old.RemotePhotoPath != props.RemotePhotoPath {
		p.stopPhoto()
		p.discardLocalPhoto()
		p.photoGetError = nil
		if p.photoNeeded > 0 {
			p.startPhotoGet()
		}
	}

	p.notify(EventUpdated)
}

// 🖼️ ThumbnailImage returns the thumbnail PNG, or nil while a placeholder
// should be shown. The first call starts fetching it.
func (p *Photo) ThumbnailImage() []byte {
	if p.thumbnail == nil && p.thumbnailGet == nil && p.thumbnailShrink == nil && p.thumbnailFail == nil {
		p.startThumbnailGet()
	}
	return p.thumbnail
}

func (p *Photo) resolve(remote string) (*http.Request, error) {
	ref, err := url.Parse(remote)
	if err != nil {
		return nil, errors.Errorf("parsing remote path %q: %w", remote, err)
	}
	if p.opts.BaseURL != nil {
		ref = p.opts.BaseURL.ResolveReference(ref)
	}
	return p.opts.Manager.RequestToGetURL(ref.String())
}

func (p *Photo) newGet(remote string) (*retry.Operation, error) {
	req, err := p.resolve(remote)
	if err != nil {
		return nil, err
	}
	op := retry.New(p.opts.Manager, req)
	op.Policy = p.opts.Policy
	op.Client = p.opts.Client
	op.AcceptableContentTypes = []string{"image/*"}
	op.SetLogger(p.logger)
	return op, nil
}

func (p *Photo) startThumbnailGet() {
	op, err := p.newGet(p.props.RemoteThumbnailPath)
	if err != nil {
		p.thumbnailFailed(err)
		return
	}

	p.thumbnailGet = op
	if err := p.opts.Manager.AddManagementOperation(op, p.opts.Loop, p.thumbnailGetDone); err != nil {
		p.thumbnailGet = nil
		p.thumbnailFailed(err)
	}
}

// thumbnailFailed keeps the placeholder until the thumbnail path changes.
func (p *Photo) thumbnailFailed(err error) {
	p.thumbnailFail = err
	p.logger.Warn().Err(err).Msg("thumbnail unavailable")
	p.notify(EventThumbnailError)
}

func (p *Photo) thumbnailGetDone(op operation.Operation) {
	if op != p.thumbnailGet {
		return
	}
	p.thumbnailGet = nil

	get := op.(*retry.Operation)
	if err := get.Err(); err != nil {
		p.thumbnailFailed(err)
		return
	}

	data := get.ResponseContent()
	shrink := &resizeOperation{}
	shrink.Block = operation.NewBlock(func(ctx context.Context) error {
		png, bounds, err := MakeThumbnail(data, ThumbnailSize)
		if err != nil {
			return err
		}
		shrink.png = png
		shrink.bounds = bounds
		return nil
	})

	p.thumbnailShrink = shrink
	if err := p.opts.Manager.AddCPUOperation(shrink, p.opts.Loop, p.thumbnailShrinkDone); err != nil {
		p.thumbnailShrink = nil
		p.thumbnailFailed(err)
	}
}

func (p *Photo) thumbnailShrinkDone(op operation.Operation) {
	if op != p.thumbnailShrink {
		return
	}
	shrink := p.thumbnailShrink
	p.thumbnailShrink = nil

	if err := shrink.Err(); err != nil {
		p.thumbnailFailed(errors.Errorf("resizing thumbnail: %w", err))
		return
	}

	p.thumbnail = shrink.png
	p.thumbnailSize = shrink.bounds
	p.notify(EventThumbnailReady)
}

func (p *Photo) stopThumbnail() {
	if p.thumbnailGet != nil {
		p.opts.Manager.Cancel(p.thumbnailGet)
		p.thumbnailGet = nil
	}
	if p.thumbnailShrink != nil {
		p.opts.Manager.Cancel(p.thumbnailShrink)
		p.thumbnailShrink = nil
	}
}

// ➕ AssertPhotoNeeded records that a client wants the full photo. The
// first assertion starts fetching it unless it is already on disk.
func (p *Photo) AssertPhotoNeeded() {
	p.photoNeeded++
	if p.photoNeeded == 1 && p.localPhotoPath == "" && p.photoGet == nil {
		p.startPhotoGet()
	}
}

// ➖ DeassertPhotoNeeded balances AssertPhotoNeeded. When nobody needs the
// photo any more an unfinished fetch is cancelled.
func (p *Photo) DeassertPhotoNeeded() {
	if p.photoNeeded == 0 {
		panic(fmt.Sprintf("photo %s: photo needed count underflow", p.props.ID))
	}
	p.photoNeeded--
	if p.photoNeeded == 0 {
		p.stopPhoto()
	}
}

func (p *Photo) photoFileName() string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r == ':' {
			return '_'
		}
		return r
	}, p.props.ID)
	if name == "" {
		name = "photo"
	}
	ext := path.Ext(p.props.RemotePhotoPath)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	return "photo-" + name + ext
}

func (p *Photo) startPhotoGet() {
	p.photoGetError = nil

	if err := os.MkdirAll(p.opts.PhotoDir, 0o755); err != nil {
		p.photoGetFailed(errors.Errorf("creating photo directory: %w", err))
		return
	}

	op, err := p.newGet(p.props.RemotePhotoPath)
	if err != nil {
		p.photoGetFailed(err)
		return
	}
	p.photoGetPath = filepath.Join(p.opts.PhotoDir, p.photoFileName())
	op.ResponseFilePath = p.photoGetPath
	op.MaximumResponseSize = p.opts.MaxPhotoSize

	p.photoGet = op
	if err := p.opts.Manager.AddManagementOperation(op, p.opts.Loop, p.photoGetDone); err != nil {
		p.photoGet = nil
		p.photoGetFailed(err)
		return
	}
	p.logger.Debug().Str("path", p.photoGetPath).Msg("photo get started")
}

func (p *Photo) photoGetFailed(err error) {
	p.photoGetError = err
	p.logger.Warn().Err(err).Msg("photo get failed")
	p.notify(EventPhotoError)
}

func (p *Photo) photoGetDone(op operation.Operation) {
	if op != p.photoGet {
		return
	}
	p.photoGet = nil

	if err := op.Err(); err != nil {
		p.photoGetFailed(err)
		return
	}

	p.localPhotoPath = p.photoGetPath
	p.notify(EventPhotoReady)
}

func (p *Photo) stopPhoto() {
	if p.photoGet != nil {
		p.opts.Manager.Cancel(p.photoGet)
		p.photoGet = nil
	}
}

func (p *Photo) discardLocalPhoto() {
	if p.localPhotoPath == "" {
		return
	}
	if err := os.Remove(p.localPhotoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn().Err(err).Str("path", p.localPhotoPath).Msg("removing stale photo")
	}
	p.localPhotoPath = ""
}

// 🛑 Stop cancels every fetch the photo has in flight.
func (p *Photo) Stop() {
	p.stopThumbnail()
	p.stopPhoto()
}
