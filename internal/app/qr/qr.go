// Package qr renders a session's scanned-code enrollment payload as an
// image, adapted from the teacher's internal/core.QRGenerator. Rendering
// stays in the application layer per spec.md §1's "no terminal/image
// rendering in the core" non-goal — internal/enroll only ever produces
// opaque code bytes.
package qr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

// Generator renders arbitrary bytes as a QR code image at a fixed pixel
// size.
type Generator struct {
	size int
}

// NewGenerator builds a Generator producing size x size pixel images.
func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = 256
	}
	return &Generator{size: size}
}

// PNG encodes data (the session's raw scanned-code bytes) as a PNG image.
func (g *Generator) PNG(data []byte) ([]byte, error) {
	q, err := qrcode.New(string(data), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("build qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, q.Image(g.size)); err != nil {
		return nil, fmt.Errorf("encode qr png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL renders data as a base64 data: URL, convenient for embedding
// directly in a JSON API response.
func (g *Generator) DataURL(data []byte) (string, error) {
	png, err := g.PNG(data)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
