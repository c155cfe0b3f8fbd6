package transport

// Manual varint/length-prefixed encoder for the handshake payloads carried
// inside the Noise messages: the server's certificate chain (message 2) and
// the client hello (message 3). Grounded on the teacher's
// internal/core/protobuf.go hand-rolled HandshakeMessage encoder — kept in
// the same style (no protoc dependency) but repointed at this spec's
// payload shapes instead of WhatsApp's ClientHello/ServerHello messages,
// since flynn/noise already owns the e/ee/s/es framing and only needs an
// opaque payload []byte at each step.

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/duskrelay/wasession/internal/waerr"
)

func encodeVarint(n uint64) []byte {
	if n == 0 {
		return []byte{0}
	}
	var buf []byte
	for n > 0 {
		b := byte(n & 0x7F)
		n >>= 7
		if n > 0 {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

func decodeVarint(data []byte) (uint64, int) {
	var n uint64
	var shift uint
	for i, b := range data {
		n |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return n, i + 1
		}
		shift += 7
		if shift >= 64 {
			return 0, 0
		}
	}
	return 0, 0
}

func encodeField(buf *bytes.Buffer, data []byte) {
	buf.Write(encodeVarint(uint64(len(data))))
	buf.Write(data)
}

func decodeField(data []byte, offset int) ([]byte, int, error) {
	if offset >= len(data) {
		return nil, 0, fmt.Errorf("handshake payload: truncated field header")
	}
	length, n := decodeVarint(data[offset:])
	if n == 0 {
		return nil, 0, fmt.Errorf("handshake payload: malformed varint")
	}
	start := offset + n
	end := start + int(length)
	if end > len(data) {
		return nil, 0, fmt.Errorf("handshake payload: field overruns buffer")
	}
	return data[start:end], end, nil
}

// CertificateChain is the pinned-issuer certificate payload the server
// delivers inside Noise message 2, per spec.md §4.2.
type CertificateChain struct {
	IssuerSerial uint64
	Chain        []byte
}

// EncodeCertificateChain serializes a certificate chain payload: a varint
// issuer serial followed by a length-prefixed opaque chain blob. Used by
// test doubles acting as the server side of the handshake.
func EncodeCertificateChain(cert CertificateChain) []byte {
	var buf bytes.Buffer
	buf.Write(encodeVarint(cert.IssuerSerial))
	encodeField(&buf, cert.Chain)
	return buf.Bytes()
}

// DecodeCertificateChain parses the server's certificate payload.
func DecodeCertificateChain(data []byte) (CertificateChain, error) {
	serial, n := decodeVarint(data)
	if n == 0 {
		return CertificateChain{}, fmt.Errorf("certificate chain: malformed issuer serial")
	}
	chain, _, err := decodeField(data, n)
	if err != nil {
		return CertificateChain{}, err
	}
	return CertificateChain{IssuerSerial: serial, Chain: chain}, nil
}

// ClientHello is the payload the client sends (encrypted) as part of Noise
// message 3: identity static key, platform/version triplet, locale, and —
// if restoring a prior session — its token and a reconnect flag (spec.md
// §4.2).
type ClientHello struct {
	IdentityStaticKey []byte
	Platform          string
	AppVersion        string
	Locale            string
	PriorToken        []byte // empty when not restoring
	Reconnect         bool
}

// EncodeClientHello serializes a ClientHello payload.
func EncodeClientHello(h ClientHello) []byte {
	var buf bytes.Buffer
	encodeField(&buf, h.IdentityStaticKey)
	encodeField(&buf, []byte(h.Platform))
	encodeField(&buf, []byte(h.AppVersion))
	encodeField(&buf, []byte(h.Locale))
	encodeField(&buf, h.PriorToken)
	if h.Reconnect {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeClientHello parses a ClientHello payload. Used by test doubles
// acting as the server side of the handshake.
func DecodeClientHello(data []byte) (ClientHello, error) {
	var h ClientHello
	var off int
	var err error

	if h.IdentityStaticKey, off, err = decodeField(data, 0); err != nil {
		return h, err
	}
	var platform, appVersion, locale []byte
	if platform, off, err = decodeField(data, off); err != nil {
		return h, err
	}
	h.Platform = string(platform)
	if appVersion, off, err = decodeField(data, off); err != nil {
		return h, err
	}
	h.AppVersion = string(appVersion)
	if locale, off, err = decodeField(data, off); err != nil {
		return h, err
	}
	h.Locale = string(locale)
	if h.PriorToken, off, err = decodeField(data, off); err != nil {
		return h, err
	}
	if off >= len(data) {
		return h, waerr.New(waerr.CodeProtocol, "client hello: missing reconnect flag")
	}
	h.Reconnect = data[off] == 1
	return h, nil
}

