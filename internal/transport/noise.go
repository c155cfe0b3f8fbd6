package transport

import (
	"context"
	"fmt"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/waerr"
	"github.com/flynn/noise"
)

// PinnedIssuerSerials lists the certificate issuer serials this client
// trusts for the server's identity, per spec.md §4.2/§9 ("certificate chain
// verification... this specification requires enforcement with a pinned
// issuer serial and treats mismatch as fatal"). Populated at build time by
// the embedding application; empty here deliberately so tests can assign
// their own fixtures to it directly.
var PinnedIssuerSerials = []uint64{}

// noiseCipherSuite implements Noise_XX_25519_AESGCM_SHA256 exactly, per
// spec.md §4.2, via flynn/noise — grounded on gosuda-portal's
// cryptoops.Handshaker, which builds the same CipherSuite/HandshakeXX pair
// (gosuda uses ChaChaPoly/BLAKE2s for its own protocol; this spec pins
// AESGCM/SHA256 instead, which flynn/noise supports identically).
var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

// HandshakeResult carries the two post-handshake cipher states captured the
// moment Split happens, per spec.md §3 (Session credential) and §4.2
// (Split). flynn/noise keeps the derived traffic keys unexported inside
// *noise.CipherState (the only way out is Cipher(), which invalidates the
// state for further use) — so the transport drives the AEAD and nonce
// counter through these CipherStates directly rather than extracting raw
// key bytes. See DESIGN.md's "post-handshake nonce" entry for why this
// supersedes the byte-layout description in spec.md §3.
type HandshakeResult struct {
	Write *noise.CipherState // initiator -> responder
	Read  *noise.CipherState // responder -> initiator
}

// Identity is this installation's long-lived X25519 key pair plus the
// client_hello metadata sent during the handshake.
type Identity struct {
	StaticPrivate []byte // 32 bytes
	StaticPublic  []byte // 32 bytes
	Platform      config.BrowserIdentity
}

// RestoreInfo carries the prior session token when resuming, per spec.md
// §4.2 Message 3 ("if restoring, the prior session token and a 'reconnect'
// flag").
type RestoreInfo struct {
	PriorToken []byte
	Reconnect  bool
}

// VerifyCertificate is called with the server's decrypted certificate
// payload once it is received in message 2. The default implementation
// checks the issuer serial against PinnedIssuerSerials; tests substitute
// their own via Handshake.VerifyCertificate.
func defaultVerifyCertificate(cert CertificateChain) error {
	for _, serial := range PinnedIssuerSerials {
		if serial == cert.IssuerSerial {
			return nil
		}
	}
	return waerr.New(waerr.CodeHandshakeRejected, fmt.Sprintf("untrusted certificate issuer serial %d", cert.IssuerSerial))
}

// RawIO is the minimal duplex byte stream the handshake writes unframed
// messages over, satisfied by the FrameCodec-wrapped websocket in socket.go
// or, in tests, an in-memory pipe.
type RawIO interface {
	WriteRaw(ctx context.Context, frame []byte) error
	// ReadRaw blocks for the next decoded handshake-phase frame payload.
	ReadRaw(ctx context.Context) ([]byte, error)
}

// Handshake drives the client (initiator) side of the Noise_XX handshake
// described in spec.md §4.2, using flynn/noise.HandshakeState as the
// engine and a thin wrapper for the WhatsApp-style wire dressing (3-byte
// frame length via FrameCodec, magic header, protobuf-ish client_hello
// payload, pinned-certificate check).
type Handshake struct {
	VerifyCertificate func(CertificateChain) error
}

// NewHandshake builds a Handshake with the default pinned-issuer verifier.
func NewHandshake() *Handshake {
	return &Handshake{VerifyCertificate: defaultVerifyCertificate}
}

// Run executes the three-message initiator handshake over io, framed by
// codec, and returns the post-Split traffic keys. On any failure the
// connection is considered fatally broken (spec.md §4.2 Failure modes).
func (h *Handshake) Run(ctx context.Context, io_ RawIO, codec *FrameCodec, identity Identity, restore *RestoreInfo) (HandshakeResult, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: noiseCipherSuite,
		Pattern:     noise.HandshakeXX,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: identity.StaticPrivate,
			Public:  identity.StaticPublic,
		},
	})
	if err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeHandshakeRejected, "init noise state", err)
	}

	// Message 1: -> e with an empty payload. flynn/noise writes the bare
	// 32-byte ephemeral public key; no 0x00 "no static" prefix byte is
	// prepended.
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeHandshakeRejected, "write message 1", err)
	}
	framed1, err := codec.Encode(msg1)
	if err != nil {
		return HandshakeResult{}, err
	}
	if err := io_.WriteRaw(ctx, framed1); err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeTransport, "send message 1", err)
	}

	// Message 2: <- e, ee, s, es + server certificate payload.
	msg2, err := io_.ReadRaw(ctx)
	if err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeTransport, "recv message 2", err)
	}
	certPayload, _, _, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeHandshakeRejected, "read message 2", err)
	}
	cert, err := DecodeCertificateChain(certPayload)
	if err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeHandshakeRejected, "decode certificate", err)
	}
	if err := h.VerifyCertificate(cert); err != nil {
		return HandshakeResult{}, err
	}

	// Message 3: -> s, se + client_hello payload.
	clientHello := ClientHello{
		IdentityStaticKey: identity.StaticPublic,
		Platform:          identity.Platform.Name,
		AppVersion:        identity.Platform.Version,
		Locale:            identity.Platform.OS,
	}
	if restore != nil {
		clientHello.PriorToken = restore.PriorToken
		clientHello.Reconnect = restore.Reconnect
	}
	msg3, cs1, cs2, err := hs.WriteMessage(nil, EncodeClientHello(clientHello))
	if err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeHandshakeRejected, "write message 3", err)
	}
	framed3, err := codec.Encode(msg3)
	if err != nil {
		return HandshakeResult{}, err
	}
	if err := io_.WriteRaw(ctx, framed3); err != nil {
		return HandshakeResult{}, waerr.Wrap(waerr.CodeTransport, "send message 3", err)
	}

	// cs1 = initiator->responder (our write state), cs2 = responder->initiator
	// (our read state), matching flynn/noise's documented Split() ordering and
	// gosuda-portal's ClientHandshake usage of the same return pair.
	return HandshakeResult{
		Write: cs1,
		Read:  cs2,
	}, nil
}
