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

package photo

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/image/draw"
)

// ThumbnailSize is the largest edge of a generated thumbnail, in pixels.
const ThumbnailSize = 60

// 🖼️ MakeThumbnail decodes a GIF, JPEG or PNG image and re-encodes it as a
// PNG whose longer edge is at most maxEdge. Images already small enough keep
// their size.
func MakeThumbnail(data []byte, maxEdge int) ([]byte, image.Rectangle, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Rectangle{}, errors.Errorf("decoding image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, image.Rectangle{}, errors.Errorf("empty %s image", format)
	}

	if w > maxEdge || h > maxEdge {
		if w >= h {
			h = max(1, h*maxEdge/w)
			w = maxEdge
		} else {
			w = max(1, w*maxEdge/h)
			h = maxEdge
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, image.Rectangle{}, errors.Errorf("encoding thumbnail: %w", err)
	}
	return out.Bytes(), dst.Bounds(), nil
}
