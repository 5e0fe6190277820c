package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDownscaleImage(t *testing.T) {
	tests := []struct {
		name        string
		width       int
		height      int
		maxSide     int
		wantWidth   int
		wantHeight  int
		wantResized bool
		wantType    string
	}{
		{name: "within bounds", width: 40, height: 20, maxSide: 64, wantWidth: 40, wantHeight: 20, wantType: "image/png"},
		{name: "wide", width: 200, height: 100, maxSide: 50, wantWidth: 50, wantHeight: 25, wantResized: true, wantType: "image/jpeg"},
		{name: "tall", width: 30, height: 120, maxSide: 60, wantWidth: 15, wantHeight: 60, wantResized: true, wantType: "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodePNG(t, tt.width, tt.height)
			got, err := DownscaleImage(data, "image/png", tt.maxSide)
			if err != nil {
				t.Fatalf("DownscaleImage() error = %v", err)
			}
			if got.Width != tt.wantWidth || got.Height != tt.wantHeight {
				t.Errorf("size = %dx%d, want %dx%d", got.Width, got.Height, tt.wantWidth, tt.wantHeight)
			}
			if got.Resized != tt.wantResized {
				t.Errorf("Resized = %v, want %v", got.Resized, tt.wantResized)
			}
			if got.ContentType != tt.wantType {
				t.Errorf("ContentType = %q, want %q", got.ContentType, tt.wantType)
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(got.Data))
			if err != nil {
				t.Fatalf("decode result: %v", err)
			}
			if cfg.Width != tt.wantWidth || cfg.Height != tt.wantHeight {
				t.Errorf("encoded size = %dx%d", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestDownscaleImageRejectsNonImage(t *testing.T) {
	if _, err := DownscaleImage([]byte("not an image"), "image/png", 10); err == nil {
		t.Fatal("expected error for undecodable data")
	}
}
