package enroll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestScannedCodeTrackerExhaustsAfterMaxAttempts drives the attempt/expiry
// state machine through exactly the timeout=1s, max_attempts=3 scenario:
// three issued codes, then exhaustion when the third code expires.
func TestScannedCodeTrackerExhaustsAfterMaxAttempts(t *testing.T) {
	tracker := NewScannedCodeTracker(time.Second, 3)
	now := time.Unix(1000, 0)

	expires := tracker.Begin(now)
	require.Equal(t, 1, tracker.Attempt())
	require.Equal(t, now.Add(time.Second), expires)

	now = now.Add(time.Second)
	expires, ok := tracker.Refresh(now)
	require.True(t, ok)
	require.Equal(t, 2, tracker.Attempt())
	require.Equal(t, now.Add(time.Second), expires)

	now = now.Add(time.Second)
	expires, ok = tracker.Refresh(now)
	require.True(t, ok)
	require.Equal(t, 3, tracker.Attempt())
	require.Equal(t, now.Add(time.Second), expires)

	now = now.Add(time.Second)
	_, ok = tracker.Refresh(now)
	require.False(t, ok, "third refresh, at max_attempts=3, must report exhaustion")
	require.Equal(t, 3, tracker.Attempt(), "attempt counter must not advance past the cap")
}

func TestScannedCodeTrackerSingleAttemptExhaustsImmediately(t *testing.T) {
	tracker := NewScannedCodeTracker(time.Second, 1)
	tracker.Begin(time.Unix(0, 0))
	_, ok := tracker.Refresh(time.Unix(1, 0))
	require.False(t, ok)
}

func TestTypedCodeRequestValidateDigitsOnly(t *testing.T) {
	require.NoError(t, TypedCodeRequest{DestinationID: "15551234567"}.Validate())

	cases := []string{"", "+15551234567", "abc", "155-5123", "15551234567 "}
	for _, id := range cases {
		err := TypedCodeRequest{DestinationID: id}.Validate()
		require.Error(t, err, "expected validation failure for %q", id)
	}
}

func TestEncodeDecodeTypedCodeReplyRoundTrip(t *testing.T) {
	expires := time.Unix(1700000000, 0)
	reply := TypedCodeReply{Code: "123-456", ExpiresAt: expires}

	// The wire format only appears on the decode side in production (the
	// server encodes it); build the matching bytes by hand to exercise
	// DecodeTypedCodeReply against a known wire payload.
	data := encodeTypedCodeReplyForTest(reply)
	decoded, err := DecodeTypedCodeReply(data)
	require.NoError(t, err)
	require.Equal(t, reply.Code, decoded.Code)
	require.True(t, reply.ExpiresAt.Equal(decoded.ExpiresAt))
}

func TestDecodeTypedCodeReplyRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeTypedCodeReply([]byte{0, 1})
	require.Error(t, err)
	_, err = DecodeTypedCodeReply(nil)
	require.Error(t, err)
}

func TestDecodeScannedSuccessRoundTrip(t *testing.T) {
	data := encodeScannedSuccessForTest(ScannedSuccess{
		ServerToken:    []byte("server-token-bytes"),
		RegistrationID: 0xDEADBEEF,
		AccountID:      "15551234567@s.example",
	})
	decoded, err := DecodeScannedSuccess(data)
	require.NoError(t, err)
	require.Equal(t, []byte("server-token-bytes"), decoded.ServerToken)
	require.Equal(t, uint32(0xDEADBEEF), decoded.RegistrationID)
	require.Equal(t, "15551234567@s.example", decoded.AccountID)
}

func TestDecodeScannedSuccessRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeScannedSuccess([]byte{0, 3, 'a'})
	require.Error(t, err)
}

func TestEncodeTypedCodeRequest(t *testing.T) {
	encoded := EncodeTypedCodeRequest(TypedCodeRequest{DestinationID: "42"})
	require.Equal(t, []byte{0, 2, '4', '2'}, encoded)
}

// encodeTypedCodeReplyForTest builds the wire format DecodeTypedCodeReply
// expects, standing in for the server side.
func encodeTypedCodeReplyForTest(r TypedCodeReply) []byte {
	code := []byte(r.Code)
	out := make([]byte, 2+len(code)+8)
	out[0] = byte(len(code) >> 8)
	out[1] = byte(len(code))
	copy(out[2:], code)
	secs := uint64(r.ExpiresAt.Unix())
	for i := 0; i < 8; i++ {
		out[2+len(code)+i] = byte(secs >> (56 - 8*i))
	}
	return out
}

// encodeScannedSuccessForTest builds the wire format DecodeScannedSuccess
// expects, standing in for the server side.
func encodeScannedSuccessForTest(s ScannedSuccess) []byte {
	out := make([]byte, 0)
	tn := len(s.ServerToken)
	out = append(out, byte(tn>>8), byte(tn))
	out = append(out, s.ServerToken...)
	out = append(out, byte(s.RegistrationID>>24), byte(s.RegistrationID>>16), byte(s.RegistrationID>>8), byte(s.RegistrationID))
	an := len(s.AccountID)
	out = append(out, byte(an>>8), byte(an))
	out = append(out, []byte(s.AccountID)...)
	return out
}
