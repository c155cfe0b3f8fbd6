// Package enroll implements the two mutually-exclusive enrollment flows of
// spec.md §4.6: the scanned-image code (attempt/expiry tracked locally,
// refreshed on timeout) and the typed short numeric code (caller-driven,
// no auto-retry). Grounded on the teacher's Connection.startNewSession/
// generateQRData, generalized into standalone trackers the session
// machine drives instead of a single hardcoded QR-only path.
package enroll

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"time"

	"github.com/duskrelay/wasession/internal/waerr"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// ScannedCodeTracker tracks the scanned-image flow's attempt counter and
// per-code expiry (spec.md §4.6: "Codes expire after 60s... On expiry and
// while attempts < max, client requests a new code. On exhausting
// attempts, state machine moves to Disconnected with reason
// EnrollmentExhausted").
type ScannedCodeTracker struct {
	maxAttempts int
	timeout     time.Duration

	attempt   int
	expiresAt time.Time
}

// NewScannedCodeTracker creates a tracker for the given per-code timeout
// and maximum refresh attempts.
func NewScannedCodeTracker(timeout time.Duration, maxAttempts int) *ScannedCodeTracker {
	return &ScannedCodeTracker{timeout: timeout, maxAttempts: maxAttempts}
}

// Begin records the first code's issuance at now and returns its expiry.
func (t *ScannedCodeTracker) Begin(now time.Time) time.Time {
	t.attempt = 1
	t.expiresAt = now.Add(t.timeout)
	return t.expiresAt
}

// Attempt returns the current 1-indexed attempt number.
func (t *ScannedCodeTracker) Attempt() int { return t.attempt }

// MaxAttempts returns the configured attempt cap.
func (t *ScannedCodeTracker) MaxAttempts() int { return t.maxAttempts }

// ExpiresAt returns the current code's expiry instant.
func (t *ScannedCodeTracker) ExpiresAt() time.Time { return t.expiresAt }

// Refresh is called when the current code expires without success. It
// either advances to the next attempt and returns its new expiry and true,
// or reports exhaustion (attempt == maxAttempts already reached) via false.
func (t *ScannedCodeTracker) Refresh(now time.Time) (expiresAt time.Time, ok bool) {
	if t.attempt >= t.maxAttempts {
		return time.Time{}, false
	}
	t.attempt++
	t.expiresAt = now.Add(t.timeout)
	return t.expiresAt, true
}

// TypedCodeRequest is the caller-supplied destination for the typed-code
// flow (spec.md §4.6: "a destination phone identifier, digits only, no
// leading sign").
type TypedCodeRequest struct {
	DestinationID string
}

// Validate checks DestinationID is non-empty and digits-only.
func (r TypedCodeRequest) Validate() error {
	if r.DestinationID == "" || !digitsOnly.MatchString(r.DestinationID) {
		return waerr.New(waerr.CodeEnrollmentFailed, fmt.Sprintf("invalid destination identifier %q: digits only", r.DestinationID))
	}
	return nil
}

// TypedCodeReply is the server's response to a typed-code request: a short
// numeric code and its expiry.
type TypedCodeReply struct {
	Code      string
	ExpiresAt time.Time
}

// ScannedSuccess is the server's enrollment-success payload delivered over
// either flow: the server token, registration identifier, and account
// identity string, handed off to build a fresh session credential.
type ScannedSuccess struct {
	ServerToken    []byte
	RegistrationID uint32
	AccountID      string
}

// EncodeTypedCodeRequest serializes a TypedCodeRequest for the tagged
// request the multiplexer sends: a 2-byte length-prefixed ASCII digit
// string.
func EncodeTypedCodeRequest(r TypedCodeRequest) []byte {
	id := []byte(r.DestinationID)
	out := make([]byte, 2+len(id))
	binary.BigEndian.PutUint16(out, uint16(len(id)))
	copy(out[2:], id)
	return out
}

// DecodeTypedCodeReply parses the server's typed-code response: a 2-byte
// length-prefixed code string followed by an 8-byte big-endian unix
// seconds expiry.
func DecodeTypedCodeReply(data []byte) (TypedCodeReply, error) {
	if len(data) < 2 {
		return TypedCodeReply{}, waerr.New(waerr.CodeProtocol, "typed code reply: truncated length")
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n+8 {
		return TypedCodeReply{}, waerr.New(waerr.CodeProtocol, "typed code reply: truncated body")
	}
	code := string(data[2 : 2+n])
	expires := int64(binary.BigEndian.Uint64(data[2+n : 2+n+8]))
	return TypedCodeReply{Code: code, ExpiresAt: time.Unix(expires, 0)}, nil
}

// DecodeScannedSuccess parses the enrollment-success envelope: 2-byte
// length-prefixed token, 4-byte big-endian registration id, 2-byte
// length-prefixed account identity string.
func DecodeScannedSuccess(data []byte) (ScannedSuccess, error) {
	if len(data) < 2 {
		return ScannedSuccess{}, waerr.New(waerr.CodeProtocol, "enrollment success: truncated token length")
	}
	tn := int(binary.BigEndian.Uint16(data))
	off := 2 + tn
	if len(data) < off+4 {
		return ScannedSuccess{}, waerr.New(waerr.CodeProtocol, "enrollment success: truncated registration id")
	}
	token := append([]byte(nil), data[2:off]...)
	regID := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	if len(data) < off+2 {
		return ScannedSuccess{}, waerr.New(waerr.CodeProtocol, "enrollment success: truncated account id length")
	}
	an := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if len(data) < off+an {
		return ScannedSuccess{}, waerr.New(waerr.CodeProtocol, "enrollment success: truncated account id")
	}
	return ScannedSuccess{
		ServerToken:    token,
		RegistrationID: regID,
		AccountID:      string(data[off : off+an]),
	}, nil
}
