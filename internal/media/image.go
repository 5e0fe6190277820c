// Package media prepares uploaded files before they reach a model.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"golang.org/x/image/draw"
)

// DefaultMaxSide bounds the longest side of an inlined image. Larger
// images cost more tokens without helping the model.
const DefaultMaxSide = 2000

// jpegQuality is used when a downscaled image is re-encoded.
const jpegQuality = 85

// ImageResult is a possibly downscaled image.
type ImageResult struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Resized     bool
}

// DownscaleImage shrinks an image so neither side exceeds maxSide, keeping
// its aspect ratio. Images already within bounds are returned unchanged.
// Resized images are re-encoded as JPEG.
func DownscaleImage(data []byte, contentType string, maxSide int) (*ImageResult, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= maxSide && cfg.Height <= maxSide {
		return &ImageResult{Data: data, ContentType: contentType, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	width, height := fit(cfg.Width, cfg.Height, maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return &ImageResult{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       width,
		Height:      height,
		Resized:     true,
	}, nil
}

func fit(width, height, maxSide int) (int, int) {
	if width >= height {
		return maxSide, max(1, height*maxSide/width)
	}
	return max(1, width*maxSide/height), maxSide
}
