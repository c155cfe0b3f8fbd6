// Package waerr defines the error taxonomy shared by every component of the
// client: transport, session, enrollment, and media. Every failure the core
// surfaces to a caller is one of these codes, wrapped with context via Err.
package waerr

import "fmt"

// Code names one entry of the error taxonomy.
type Code string

const (
	// CodeConfig marks invalid options supplied at construction.
	CodeConfig Code = "config"
	// CodeTransport marks a socket-level I/O failure, recoverable by reconnect.
	CodeTransport Code = "transport"
	// CodeProtocol marks a framing or decode violation by the peer.
	CodeProtocol Code = "protocol"
	// CodeHandshakeRejected marks a refused identity or certificate mismatch.
	CodeHandshakeRejected Code = "handshake_rejected"
	// CodeAEADFailure marks a post-handshake AEAD decrypt failure: the peer's
	// cipher state no longer matches ours, so the credential it was bound to
	// is suspect and must not be reused for a restore attempt.
	CodeAEADFailure Code = "aead_failure"
	// CodeAuthenticationRequired marks an operation needing a credential the
	// session does not have.
	CodeAuthenticationRequired Code = "authentication_required"
	// CodeEnrollmentFailed marks exhausted enrollment attempts.
	CodeEnrollmentFailed Code = "enrollment_failed"
	// CodeTimeout marks a per-request or per-state deadline that elapsed.
	CodeTimeout Code = "timeout"
	// CodeDisconnected is returned to every pending request when the
	// connection drops.
	CodeDisconnected Code = "disconnected"
	// CodeMediaAuthenticationFailed marks an HMAC mismatch on download.
	CodeMediaAuthenticationFailed Code = "media_authentication_failed"
	// CodeMediaSizeExceeded marks a caller-side size limit violation.
	CodeMediaSizeExceeded Code = "media_size_exceeded"
	// CodeCancelled marks a caller-dropped await.
	CodeCancelled Code = "cancelled"
)

// Error is the concrete type behind every taxonomy code. Callers match on
// Code via errors.As, not on the message text.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, waerr.Disconnected) match any *Error sharing a code,
// regardless of message/wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds a bare sentinel for a code, suitable for errors.Is comparisons.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a taxonomy code to an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinels usable directly with errors.Is.
var (
	Disconnected           = New(CodeDisconnected, "connection dropped")
	Timeout                = New(CodeTimeout, "deadline exceeded")
	Cancelled              = New(CodeCancelled, "operation cancelled")
	AuthenticationRequired = New(CodeAuthenticationRequired, "no session credential available")
	MediaAuthFailed        = New(CodeMediaAuthenticationFailed, "media HMAC verification failed")
)
