package qr

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGeneratorDefaultsToNonZeroSize(t *testing.T) {
	g := NewGenerator(0)
	require.Equal(t, 256, g.size)
}

func TestPNGProducesDecodablePNGOfRequestedSize(t *testing.T) {
	g := NewGenerator(128)
	data, err := g.PNG([]byte("1@enrollment-code-bytes"))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 128, img.Bounds().Dx())
	require.Equal(t, 128, img.Bounds().Dy())
}

func TestDataURLIsAValidBase64PNGDataURL(t *testing.T) {
	g := NewGenerator(64)
	url, err := g.DataURL([]byte("payload"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	encoded := strings.TrimPrefix(url, "data:image/png;base64,")
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	_, err = png.Decode(bytes.NewReader(decoded))
	require.NoError(t, err)
}
