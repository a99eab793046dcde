// Package pageimage reads the pixel dimensions of a rendered score page
// without decoding the image data.
package pageimage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
)

// MaxImageBytes bounds the accepted page image size.
const MaxImageBytes = 64 << 20

// Dimensions describes a page image.
type Dimensions struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format,omitempty"`
}

// Known reports whether both dimensions are positive.
func (d Dimensions) Known() bool {
	return d.Width > 0 && d.Height > 0
}

// Probe reads the header of a PNG, JPEG, GIF, BMP, TIFF or WebP image.
func Probe(data []byte) (Dimensions, error) {
	if len(data) == 0 {
		return Dimensions{}, ferrors.NewValidation("image", "empty")
	}
	if len(data) > MaxImageBytes {
		return Dimensions{}, ferrors.NewValidation("image", fmt.Sprintf("larger than %d bytes", MaxImageBytes))
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, ferrors.NewUnsupported("image format", err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Dimensions{}, ferrors.NewValidation("image", fmt.Sprintf("degenerate size %dx%d", cfg.Width, cfg.Height))
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
