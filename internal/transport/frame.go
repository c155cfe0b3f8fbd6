// Package transport owns the wire-level concerns of the client: the
// length-prefixed frame codec (component B), the Noise_XX handshake
// (component C), and the websocket-backed post-handshake transport
// (component D). Grounded on the teacher's internal/core/noise.go, which
// originally mixed all three concerns into one NoiseHandler type — split
// apart here per spec.md §9's "parallel classes owning socket+crypto state"
// redesign flag.
package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/waerr"
	"github.com/valyala/bytebufferpool"
)

// MaxFramePayload is 2^24-1, the largest payload a 3-byte length prefix can
// describe (spec.md §3 Frame, §8 scenario 1).
const MaxFramePayload = 1<<24 - 1

// FrameCodec implements the length-prefixed frame stream described in
// spec.md §4.1: a 3-byte big-endian length prefix per frame, with a 4-byte
// magic header prepended exactly once per underlying socket. It holds no
// cryptographic state — encryption is the transport's job, not the codec's.
type FrameCodec struct {
	version     config.ProtocolVersion
	headerSent  bool
	accumulator *bytebufferpool.ByteBuffer
}

// NewFrameCodec creates a codec for one socket lifetime. A fresh FrameCodec
// must be created per reconnection; the magic header is written exactly
// once per instance.
func NewFrameCodec(version config.ProtocolVersion) *FrameCodec {
	return &FrameCodec{version: version, accumulator: bytebufferpool.Get()}
}

// Release returns the codec's internal buffer to the shared pool. Call when
// the owning socket closes.
func (f *FrameCodec) Release() {
	bytebufferpool.Put(f.accumulator)
	f.accumulator = nil
}

// magicHeader returns the one-time 4-byte prefix: ASCII 'W','A' followed by
// the protocol version's major/minor pair (spec.md §6).
func (f *FrameCodec) magicHeader() []byte {
	return []byte{'W', 'A', f.version.Major, f.version.Minor}
}

// Encode frames payload, prepending the one-time magic header on the very
// first call. Returns CodeProtocol if payload exceeds MaxFramePayload.
func (f *FrameCodec) Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxFramePayload {
		return nil, waerr.New(waerr.CodeProtocol, fmt.Sprintf("frame payload too large: %d bytes", len(payload)))
	}

	headerLen := 0
	if !f.headerSent {
		headerLen = 4
	}

	out := make([]byte, headerLen+3+len(payload))
	if headerLen > 0 {
		copy(out, f.magicHeader())
	}
	lenOff := headerLen
	out[lenOff] = byte(len(payload) >> 16)
	binary.BigEndian.PutUint16(out[lenOff+1:], uint16(len(payload)&0xFFFF))
	copy(out[lenOff+3:], payload)

	f.headerSent = true
	return out, nil
}

// Feed appends newly read bytes and returns every complete frame payload
// that can now be extracted. Partial frames are retained internally until
// the remaining bytes arrive (spec.md §4.1 ShortRead behavior: never an
// error, just "not yet"). The magic header is a one-time prefix on the
// client's outbound stream only (Encode); the server's inbound stream never
// carries one, so Feed parses length-prefixed frames from the first byte.
func (f *FrameCodec) Feed(data []byte) ([][]byte, error) {
	f.accumulator.Write(data)

	var frames [][]byte
	buf := f.accumulator.B
	consumed := 0

	for len(buf)-consumed >= 3 {
		rest := buf[consumed:]
		size := int(rest[0])<<16 | int(binary.BigEndian.Uint16(rest[1:3]))
		if size > MaxFramePayload {
			return frames, waerr.New(waerr.CodeProtocol, fmt.Sprintf("frame length %d exceeds maximum", size))
		}
		if len(rest) < 3+size {
			break
		}
		frame := make([]byte, size)
		copy(frame, rest[3:3+size])
		frames = append(frames, frame)
		consumed += 3 + size
	}

	// Compact the accumulator in place so leftover partial-frame bytes move
	// to the front instead of growing the buffer forever.
	remaining := copy(f.accumulator.B, buf[consumed:])
	f.accumulator.B = f.accumulator.B[:remaining]

	return frames, nil
}
