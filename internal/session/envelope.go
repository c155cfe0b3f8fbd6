package session

import (
	"encoding/binary"

	"github.com/duskrelay/wasession/internal/waerr"
)

// envelopeKind distinguishes a tagged reply (routed to the multiplexer)
// from an unsolicited push (routed to the event bus or handled internally
// by the state machine), per spec.md §2's demux step. This is the thin,
// chat-shape-agnostic addressing header the demultiplex step needs — the
// body itself stays fully opaque, honoring spec.md §1 ("the core must not
// know the shape of chat messages").
type envelopeKind byte

const (
	envelopeTaggedReply envelopeKind = iota
	envelopeUnsolicited
)

// pushKind further distinguishes an unsolicited envelope's purpose, for
// the handful of push types the state machine itself must recognize
// (enrollment prompts and success) versus the ones it simply forwards
// opaquely to callers (incoming chat traffic, delivery receipts).
type pushKind byte

const (
	pushEnrollmentCode pushKind = iota
	pushEnrollmentSuccess
	pushIncoming
	pushReceipt
)

// envelope is the decoded demux header: kind, an optional tag (set only
// for tagged replies), an optional push sub-kind (set only for
// unsolicited pushes), and the opaque body.
type envelope struct {
	kind envelopeKind
	tag  string
	push pushKind
	body []byte
}

// encodeEnvelope serializes an outbound request envelope: always a tagged
// reply in the client->server direction, since only the server pushes
// unsolicited envelopes.
func encodeEnvelope(tag string, body []byte) []byte {
	tagBytes := []byte(tag)
	out := make([]byte, 1+2+len(tagBytes)+len(body))
	out[0] = byte(envelopeTaggedReply)
	binary.BigEndian.PutUint16(out[1:], uint16(len(tagBytes)))
	copy(out[3:], tagBytes)
	copy(out[3+len(tagBytes):], body)
	return out
}

// decodeEnvelope parses an inbound frame's demux header.
func decodeEnvelope(data []byte) (envelope, error) {
	if len(data) < 1 {
		return envelope{}, waerr.New(waerr.CodeProtocol, "envelope: empty frame")
	}
	switch envelopeKind(data[0]) {
	case envelopeTaggedReply:
		if len(data) < 3 {
			return envelope{}, waerr.New(waerr.CodeProtocol, "envelope: truncated tag length")
		}
		n := int(binary.BigEndian.Uint16(data[1:]))
		if len(data) < 3+n {
			return envelope{}, waerr.New(waerr.CodeProtocol, "envelope: truncated tag")
		}
		return envelope{
			kind: envelopeTaggedReply,
			tag:  string(data[3 : 3+n]),
			body: data[3+n:],
		}, nil
	case envelopeUnsolicited:
		if len(data) < 2 {
			return envelope{}, waerr.New(waerr.CodeProtocol, "envelope: truncated push kind")
		}
		return envelope{
			kind: envelopeUnsolicited,
			push: pushKind(data[1]),
			body: data[2:],
		}, nil
	default:
		return envelope{}, waerr.New(waerr.CodeProtocol, "envelope: unknown kind")
	}
}
