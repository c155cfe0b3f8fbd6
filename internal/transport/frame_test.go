package transport

import (
	"testing"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/stretchr/testify/require"
)

func testVersion() config.ProtocolVersion {
	return config.ProtocolVersion{Major: 6, Minor: 5, Patch: 0}
}

// encodeFrameNoHeader builds a bare length-prefixed frame with no magic
// header, matching what Feed actually sees on a real inbound stream (the
// header is an outbound-only, one-time artifact of Encode).
func encodeFrameNoHeader(payload []byte) []byte {
	out := make([]byte, 3+len(payload))
	out[0] = byte(len(payload) >> 16)
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload))
	copy(out[3:], payload)
	return out
}

// roundTrip frames every payload header-free, feeds the concatenated bytes
// through a fresh read-side codec one chunk at a time (simulating arbitrary
// websocket message boundaries), and returns the decoded frames.
func roundTrip(t *testing.T, chunkSize int, payloads [][]byte) [][]byte {
	t.Helper()

	var wire []byte
	for _, p := range payloads {
		wire = append(wire, encodeFrameNoHeader(p)...)
	}

	reader := NewFrameCodec(testVersion())
	defer reader.Release()

	var got [][]byte
	for i := 0; i < len(wire); i += chunkSize {
		end := i + chunkSize
		if end > len(wire) {
			end = len(wire)
		}
		frames, err := reader.Feed(wire[i:end])
		require.NoError(t, err)
		got = append(got, frames...)
	}
	return got
}

func TestFrameCodecBoundarySizes(t *testing.T) {
	sizes := []int{0, 1, MaxFramePayload - 1, MaxFramePayload}

	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		got := roundTrip(t, 4096, [][]byte{payload})
		require.Len(t, got, 1)
		require.Equal(t, payload, got[0])
	}
}

func TestFrameCodecRejectsOversizePayload(t *testing.T) {
	writer := NewFrameCodec(testVersion())
	defer writer.Release()

	_, err := writer.Encode(make([]byte, MaxFramePayload+1))
	require.Error(t, err)
}

func TestFrameCodecHandlesArbitraryChunkBoundaries(t *testing.T) {
	payloads := [][]byte{
		[]byte("first"),
		[]byte(""),
		[]byte("a slightly longer second frame payload"),
		[]byte("third"),
	}

	for _, chunkSize := range []int{1, 2, 3, 7, 64} {
		got := roundTrip(t, chunkSize, payloads)
		require.Len(t, got, len(payloads))
		for i, p := range payloads {
			require.Equal(t, p, got[i], "chunk size %d, frame %d", chunkSize, i)
		}
	}
}

func TestFrameCodecMagicHeaderSentOnce(t *testing.T) {
	writer := NewFrameCodec(testVersion())
	defer writer.Release()

	first, err := writer.Encode([]byte("a"))
	require.NoError(t, err)
	second, err := writer.Encode([]byte("b"))
	require.NoError(t, err)

	require.Equal(t, []byte{'W', 'A', 6, 5}, first[:4])
	require.NotEqual(t, byte('W'), second[0])
}
