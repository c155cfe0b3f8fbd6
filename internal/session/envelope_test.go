package session

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEnvelopeTaggedReplyRoundTrip(t *testing.T) {
	data := encodeEnvelope("abc-123", []byte("payload bytes"))
	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, envelopeTaggedReply, env.kind)
	require.Equal(t, "abc-123", env.tag)
	require.Equal(t, []byte("payload bytes"), env.body)
}

func TestEncodeDecodeEnvelopeEmptyBodyAndTag(t *testing.T) {
	data := encodeEnvelope("", nil)
	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, "", env.tag)
	require.Empty(t, env.body)
}

func TestDecodeEnvelopeUnsolicitedPush(t *testing.T) {
	data := append([]byte{byte(envelopeUnsolicited), byte(pushIncoming)}, []byte("incoming bytes")...)
	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, envelopeUnsolicited, env.kind)
	require.Equal(t, pushIncoming, env.push)
	require.Equal(t, []byte("incoming bytes"), env.body)
}

func TestDecodeEnvelopeRejectsEmptyFrame(t *testing.T) {
	_, err := decodeEnvelope(nil)
	require.Error(t, err)
}

func TestDecodeEnvelopeRejectsTruncatedTagLength(t *testing.T) {
	_, err := decodeEnvelope([]byte{byte(envelopeTaggedReply), 0})
	require.Error(t, err)
}

func TestDecodeEnvelopeRejectsTruncatedTag(t *testing.T) {
	header := []byte{byte(envelopeTaggedReply), 0, 0}
	binary.BigEndian.PutUint16(header[1:], 5) // claims a 5-byte tag, none follow
	_, err := decodeEnvelope(header)
	require.Error(t, err)
}

func TestDecodeEnvelopeRejectsTruncatedPushKind(t *testing.T) {
	_, err := decodeEnvelope([]byte{byte(envelopeUnsolicited)})
	require.Error(t, err)
}

func TestDecodeEnvelopeRejectsUnknownKind(t *testing.T) {
	_, err := decodeEnvelope([]byte{0xFF})
	require.Error(t, err)
}
