package converter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Converter turns an uploaded image into the data URL payload the
// generation service accepts. Images larger than maxDimension on either
// side are shrunk first; zero disables resizing.
type Converter struct {
	maxDimension int
	logger       *zap.Logger
}

func NewConverter(maxDimension int, logger *zap.Logger) *Converter {
	return &Converter{maxDimension: maxDimension, logger: logger}
}

func (c *Converter) EncodeDataURL(inputPath string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("unsupported content type: %s", mime)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		c.logger.Error("Failed to decode image",
			zap.String("path", inputPath),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	if c.maxDimension > 0 && (bounds.Dx() > c.maxDimension || bounds.Dy() > c.maxDimension) {
		c.logger.Info("Resizing image",
			zap.String("path", inputPath),
			zap.Int("width", bounds.Dx()),
			zap.Int("height", bounds.Dy()),
			zap.Int("max_dimension", c.maxDimension),
		)

		resized := imaging.Fit(src, c.maxDimension, c.maxDimension, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
			return "", fmt.Errorf("failed to encode PNG: %w", err)
		}
		data = buf.Bytes()
		mime = "image/png"
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
