// Package media implements the attachment cipher pipeline of spec.md §4.7:
// per-blob HKDF key schedule, AES-256-CBC encryption, and a truncated
// HMAC-SHA256 trailer, plus upload/download orchestration against an
// opaque HTTPS collaborator. Grounded on spec.md §4.7 directly — the
// teacher has no media handling at all (its SendMedia handler is a TODO
// placeholder) — following the crypto package's HKDF-then-cipher shape
// already established for the Noise handshake.
package media

import (
	"context"
	"fmt"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/crypto"
	"github.com/duskrelay/wasession/internal/waerr"
	"github.com/gabriel-vasile/mimetype"
)

// mediaKeysInfo is the HKDF info string used for the per-blob key
// schedule, per spec.md §4.7's "<service> Media Keys" template.
const mediaKeysInfo = "Wasession Media Keys"

// Kind selects which configured size limit applies to a blob.
type Kind int

const (
	KindImage Kind = iota
	KindVideo
	KindAudio
	KindDocument
	KindSmallSticker
)

func limitFor(limits config.MediaSizeLimits, kind Kind) int64 {
	switch kind {
	case KindImage:
		return limits.ImageBytes
	case KindVideo:
		return limits.VideoBytes
	case KindAudio:
		return limits.AudioBytes
	case KindDocument:
		return limits.DocumentBytes
	case KindSmallSticker:
		return limits.SmallStickerBytes
	default:
		return limits.DocumentBytes
	}
}

// KeyMaterial is the 112 bytes expanded from a media root, laid out per
// spec.md §4.7 (Key schedule): enc_key(32) || mac_key(32) || iv(16) ||
// ref_key(32).
type KeyMaterial struct {
	EncKey []byte
	MacKey []byte
	IV     []byte
	RefKey []byte
}

// DeriveKeyMaterial expands a 32-byte media root into KeyMaterial.
func DeriveKeyMaterial(mediaRoot []byte) (KeyMaterial, error) {
	if len(mediaRoot) != 32 {
		return KeyMaterial{}, waerr.New(waerr.CodeProtocol, fmt.Sprintf("media root must be 32 bytes, got %d", len(mediaRoot)))
	}
	expanded, err := crypto.HKDFExpand(mediaRoot, nil, []byte(mediaKeysInfo), 112)
	if err != nil {
		return KeyMaterial{}, waerr.Wrap(waerr.CodeProtocol, "expand media key material", err)
	}
	return KeyMaterial{
		EncKey: expanded[0:32],
		MacKey: expanded[32:64],
		IV:     expanded[64:80],
		RefKey: expanded[80:112],
	}, nil
}

const macLen = 10

// UploadResult is what the caller receives after a successful upload
// (spec.md §4.7 Upload).
type UploadResult struct {
	URL              string
	MediaRoot        []byte
	PlaintextSHA256  [32]byte
	UploadBufferSHA  [32]byte
	Size             int64
}

// BlobTransport is the external HTTPS collaborator that moves opaque
// ciphertext buffers to and from the service's media endpoints. The core
// never inspects its bytes beyond treating them as the encrypt/decrypt
// input; bearer-style auth headers are its implementation's concern.
type BlobTransport interface {
	Upload(ctx context.Context, buffer []byte) (url string, err error)
	Download(ctx context.Context, url string) (buffer []byte, err error)
}

// Pipeline drives the upload/download flow against a BlobTransport and
// enforces config.MediaSizeLimits.
type Pipeline struct {
	transport BlobTransport
	limits    config.MediaSizeLimits
}

// NewPipeline builds a Pipeline against the given collaborator and limits.
func NewPipeline(transport BlobTransport, limits config.MediaSizeLimits) *Pipeline {
	return &Pipeline{transport: transport, limits: limits}
}

// Upload encrypts plaintext under a fresh media_root, builds the upload
// buffer iv||ciphertext||mac10, and hands it to the BlobTransport.
func (p *Pipeline) Upload(ctx context.Context, plaintext []byte, kind Kind) (UploadResult, error) {
	if limit := limitFor(p.limits, kind); int64(len(plaintext)) > limit {
		return UploadResult{}, waerr.New(waerr.CodeMediaSizeExceeded, fmt.Sprintf("plaintext %d bytes exceeds limit %d for kind %d", len(plaintext), limit, kind))
	}

	mediaRoot, err := crypto.RandomBytes(32)
	if err != nil {
		return UploadResult{}, waerr.Wrap(waerr.CodeProtocol, "generate media root", err)
	}
	km, err := DeriveKeyMaterial(mediaRoot)
	if err != nil {
		return UploadResult{}, err
	}

	ciphertext, err := crypto.CBCEncrypt(km.EncKey, km.IV, plaintext)
	if err != nil {
		return UploadResult{}, waerr.Wrap(waerr.CodeProtocol, "cbc encrypt", err)
	}

	buffer := buildUploadBuffer(km.IV, ciphertext, km.MacKey)

	url, err := p.transport.Upload(ctx, buffer)
	if err != nil {
		return UploadResult{}, waerr.Wrap(waerr.CodeTransport, "upload blob", err)
	}

	return UploadResult{
		URL:             url,
		MediaRoot:       mediaRoot,
		PlaintextSHA256: crypto.SHA256(plaintext),
		UploadBufferSHA: crypto.SHA256(buffer),
		Size:            int64(len(buffer)),
	}, nil
}

// Download fetches the ciphertext buffer at url, verifies its HMAC trailer
// under mediaRoot's derived mac_key, and decrypts it. Any tamper anywhere
// in iv/ciphertext/mac fails with MediaAuthenticationFailed (spec.md §8
// invariant). mimeHint, if non-empty, is trusted as-is (e.g. a caller's
// Content-Type from the original send); otherwise the MIME type is sniffed
// from the decrypted plaintext's leading bytes.
func (p *Pipeline) Download(ctx context.Context, url string, mediaRoot []byte, kind Kind, mimeHint string) ([]byte, string, error) {
	buffer, err := p.transport.Download(ctx, url)
	if err != nil {
		return nil, "", waerr.Wrap(waerr.CodeTransport, "download blob", err)
	}

	plaintext, err := DecryptUploadBuffer(buffer, mediaRoot)
	if err != nil {
		return nil, "", err
	}

	if limit := limitFor(p.limits, kind); int64(len(plaintext)) > limit {
		return nil, "", waerr.New(waerr.CodeMediaSizeExceeded, fmt.Sprintf("decrypted %d bytes exceeds limit %d for kind %d", len(plaintext), limit, kind))
	}

	mime := mimeHint
	if mime == "" {
		mime = mimetype.Detect(plaintext).String()
	}
	return plaintext, mime, nil
}

// buildUploadBuffer assembles iv || ciphertext || hmac10, per spec.md
// §4.7: "HMAC-SHA256(iv || ciphertext, mac_key); truncate to first 10
// bytes".
func buildUploadBuffer(iv, ciphertext, macKey []byte) []byte {
	mac := crypto.HMACSHA256(macKey, append(append([]byte(nil), iv...), ciphertext...))[:macLen]
	buffer := make([]byte, 0, len(iv)+len(ciphertext)+macLen)
	buffer = append(buffer, iv...)
	buffer = append(buffer, ciphertext...)
	buffer = append(buffer, mac...)
	return buffer
}

// DecryptUploadBuffer splits buffer into iv/ciphertext/mac10, verifies the
// trailer, and decrypts — exposed standalone so callers (and the known-
// answer test, spec.md §8 scenario 5) can exercise it without a
// BlobTransport round trip.
func DecryptUploadBuffer(buffer, mediaRoot []byte) ([]byte, error) {
	const ivLen = 16
	if len(buffer) < ivLen+macLen {
		return nil, waerr.New(waerr.CodeMediaAuthenticationFailed, "upload buffer too short")
	}

	km, err := DeriveKeyMaterial(mediaRoot)
	if err != nil {
		return nil, err
	}

	iv := buffer[:ivLen]
	ciphertext := buffer[ivLen : len(buffer)-macLen]
	mac := buffer[len(buffer)-macLen:]

	expected := crypto.HMACSHA256(km.MacKey, append(append([]byte(nil), iv...), ciphertext...))[:macLen]
	if !crypto.ConstantTimeEqual(mac, expected) {
		return nil, waerr.MediaAuthFailed
	}

	plaintext, err := crypto.CBCDecrypt(km.EncKey, iv, ciphertext)
	if err != nil {
		return nil, waerr.Wrap(waerr.CodeMediaAuthenticationFailed, "cbc decrypt", err)
	}
	return plaintext, nil
}
