package media

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/crypto"
	"github.com/stretchr/testify/require"
)

// memTransport is an in-memory BlobTransport backing the Pipeline in
// tests, standing in for the real HTTPS collaborator.
type memTransport struct {
	blobs map[string][]byte
	next  int
}

func newMemTransport() *memTransport {
	return &memTransport{blobs: make(map[string][]byte)}
}

func (m *memTransport) Upload(_ context.Context, buffer []byte) (string, error) {
	m.next++
	url := "mem://blob/" + string(rune('a'+m.next))
	m.blobs[url] = append([]byte(nil), buffer...)
	return url, nil
}

func (m *memTransport) Download(_ context.Context, url string) ([]byte, error) {
	return m.blobs[url], nil
}

func testLimits() config.MediaSizeLimits {
	return config.DefaultMediaSizeLimits()
}

func TestDeriveKeyMaterialKnownAnswer(t *testing.T) {
	mediaRoot := make([]byte, 32) // all-zero root per the scenario 5 fixture
	km, err := DeriveKeyMaterial(mediaRoot)
	require.NoError(t, err)

	require.Len(t, km.EncKey, 32)
	require.Len(t, km.MacKey, 32)
	require.Len(t, km.IV, 16)
	require.Len(t, km.RefKey, 32)

	require.Equal(t, "4791609b5fce6b9d94a2987df9e4b18167f52d4a3e657d2cd47cc0ae4831d5dd", hex.EncodeToString(km.EncKey))
	require.Equal(t, "f89dbad11b9783190f554cb2cb36b680c733a8aa899b7ae41f0df93dd64af005", hex.EncodeToString(km.MacKey))
	require.Equal(t, "f165ef1c40ec90876df1a1692f23eabe", hex.EncodeToString(km.IV))
	require.Equal(t, "034abb8f61c7ca197940d7a3b6aac2f29a8ac00fb16cd380abbc17520dc7a24d", hex.EncodeToString(km.RefKey))

	// Deterministic: the same root always expands to the same material.
	km2, err := DeriveKeyMaterial(mediaRoot)
	require.NoError(t, err)
	require.Equal(t, km, km2)
}

func TestDeriveKeyMaterialRejectsWrongSizedRoot(t *testing.T) {
	_, err := DeriveKeyMaterial(make([]byte, 16))
	require.Error(t, err)
}

func TestUploadBufferRoundTripKnownAnswer(t *testing.T) {
	mediaRoot := make([]byte, 32)
	plaintext := []byte("hello")

	km, err := DeriveKeyMaterial(mediaRoot)
	require.NoError(t, err)

	ciphertext, err := cbcEncryptForTest(km.EncKey, km.IV, plaintext)
	require.NoError(t, err)
	buffer := buildUploadBuffer(km.IV, ciphertext, km.MacKey)
	require.Equal(t, "f165ef1c40ec90876df1a1692f23eabee0773d289d29d763009cf0f88000fafa7d0d87e822191f12d7a6", hex.EncodeToString(buffer))

	decrypted, err := DecryptUploadBuffer(buffer, mediaRoot)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestUploadBufferDetectsTamperAnywhere(t *testing.T) {
	mediaRoot := make([]byte, 32)
	km, err := DeriveKeyMaterial(mediaRoot)
	require.NoError(t, err)

	ciphertext, err := cbcEncryptForTest(km.EncKey, km.IV, []byte("hello"))
	require.NoError(t, err)
	buffer := buildUploadBuffer(km.IV, ciphertext, km.MacKey)

	for i := range buffer {
		tampered := append([]byte(nil), buffer...)
		tampered[i] ^= 0x01
		_, err := DecryptUploadBuffer(tampered, mediaRoot)
		require.Error(t, err, "tamper at byte %d must be detected", i)
	}
}

func TestPipelineUploadDownloadRoundTrip(t *testing.T) {
	transport := newMemTransport()
	pipeline := NewPipeline(transport, testLimits())

	plaintext := []byte("a short image payload")
	result, err := pipeline.Upload(context.Background(), plaintext, KindImage)
	require.NoError(t, err)
	require.NotEmpty(t, result.URL)
	require.Len(t, result.MediaRoot, 32)

	downloaded, mime, err := pipeline.Download(context.Background(), result.URL, result.MediaRoot, KindImage, "")
	require.NoError(t, err)
	require.Equal(t, plaintext, downloaded)
	require.NotEmpty(t, mime)
}

func TestPipelineDownloadTrustsCallerSuppliedMIMEHint(t *testing.T) {
	transport := newMemTransport()
	pipeline := NewPipeline(transport, testLimits())

	result, err := pipeline.Upload(context.Background(), []byte("plain text body"), KindDocument)
	require.NoError(t, err)

	_, mime, err := pipeline.Download(context.Background(), result.URL, result.MediaRoot, KindDocument, "application/pdf")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", mime)
}

func TestPipelineDownloadDetectsMIMEFromLeadingBytes(t *testing.T) {
	transport := newMemTransport()
	pipeline := NewPipeline(transport, testLimits())

	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 24)...)
	result, err := pipeline.Upload(context.Background(), png, KindImage)
	require.NoError(t, err)

	_, mime, err := pipeline.Download(context.Background(), result.URL, result.MediaRoot, KindImage, "")
	require.NoError(t, err)
	require.Equal(t, "image/png", mime)
}

func TestPipelineUploadRejectsOversizePlaintext(t *testing.T) {
	limits := config.MediaSizeLimits{ImageBytes: 4}
	pipeline := NewPipeline(newMemTransport(), limits)

	_, err := pipeline.Upload(context.Background(), []byte("too big"), KindImage)
	require.Error(t, err)
}

func TestPipelineDownloadFailsOnWrongMediaRoot(t *testing.T) {
	transport := newMemTransport()
	pipeline := NewPipeline(transport, testLimits())

	result, err := pipeline.Upload(context.Background(), []byte("secret"), KindDocument)
	require.NoError(t, err)

	wrongRoot := make([]byte, 32)
	wrongRoot[0] = 1
	_, _, err = pipeline.Download(context.Background(), result.URL, wrongRoot, KindDocument, "")
	require.Error(t, err)
}

// cbcEncryptForTest builds a known-answer ciphertext via the crypto
// package directly, standing in for what Pipeline.Upload does internally.
func cbcEncryptForTest(key, iv, plaintext []byte) ([]byte, error) {
	return crypto.CBCEncrypt(key, iv, plaintext)
}
