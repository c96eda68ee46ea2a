package service

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"

	"golang.org/x/image/draw"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

const (
	// Images above this size are candidates for lossy downscaling before
	// encoding. Policy knob, not a correctness requirement.
	imageRecompressBytes = 2 << 20

	maxImageWidth  = 1920
	maxImageHeight = 1080
	jpegQuality    = 85
)

// Encoder converts an uploaded file into the text-safe payload the wire
// protocol carries. Pure transformation, no network or state side effects.
type Encoder struct {
	maxFileBytes    int64
	downscaleImages bool
}

func NewEncoder(cfg *config.EncoderConfig) *Encoder {
	return &Encoder{
		maxFileBytes:    cfg.MaxFileBytes,
		downscaleImages: cfg.DownscaleImages,
	}
}

// Encode validates the payload size and returns its base64 content
// encoding. Oversized image payloads may be downscaled first when the
// policy is enabled; the downscaled form is used only when it is actually
// smaller.
func (e *Encoder) Encode(filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", model.ErrUnreadableFile, filename)
	}
	if int64(len(data)) > e.maxFileBytes {
		return "", fmt.Errorf("%w: %s is %d bytes (limit %d)",
			model.ErrFileTooLarge, filename, len(data), e.maxFileBytes)
	}

	if e.downscaleImages && int64(len(data)) > imageRecompressBytes && isImage(data) {
		if smaller, err := downscaleImage(data); err == nil && len(smaller) < len(data) {
			data = smaller
		}
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode's content encoding.
func (e *Encoder) Decode(content string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnreadableFile, err)
	}
	return data, nil
}

func isImage(data []byte) bool {
	switch http.DetectContentType(data) {
	case "image/png", "image/jpeg":
		return true
	}
	return false
}

// downscaleImage caps the image at maxImageWidth x maxImageHeight
// preserving aspect ratio and recompresses it as JPEG.
func downscaleImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	scale := 1.0
	if width > maxImageWidth {
		scale = float64(maxImageWidth) / float64(width)
	}
	if s := float64(maxImageHeight) / float64(height); height > maxImageHeight && s < scale {
		scale = s
	}

	dst := img
	if scale < 1.0 {
		scaled := image.NewRGBA(image.Rect(0, 0,
			int(float64(width)*scale), int(float64(height)*scale)))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		dst = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
