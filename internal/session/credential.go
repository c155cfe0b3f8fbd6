package session

import (
	"sync"
	"time"

	"github.com/duskrelay/wasession/internal/crypto"
	"github.com/duskrelay/wasession/internal/transport"
)

// Credential is the opaque-to-callers record produced by enrollment and
// consumed by the restore-session path (spec.md §3 Session credential).
// The identity key pair, registration identifier, server token, and
// last-used timestamp survive a Snapshot for persistence; the live traffic
// cipher states do not — every reconnection runs a fresh Noise handshake
// that produces its own pair (flynn/noise never exposes the raw key bytes
// a serialized credential would need, and the protocol doesn't require it:
// restore works off PriorToken, not off resuming a specific cipher state).
type Credential struct {
	mu sync.RWMutex

	Identity       crypto.KeyPair
	RegistrationID uint32
	ServerToken    []byte
	LastUsed       time.Time

	traffic transport.HandshakeResult
}

// Snapshot is the persistence-safe, caller-visible subset of a Credential.
// Implementers may marshal this with any codec that round-trips it exactly
// (spec.md §6: "format unspecified... provided round-trip equality holds").
type Snapshot struct {
	IdentityPrivate [32]byte
	IdentityPublic  [32]byte
	RegistrationID  uint32
	ServerToken     []byte
	LastUsed        time.Time
}

// Snapshot copies out the persistence-safe fields under the read lock.
func (c *Credential) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		IdentityPrivate: c.Identity.Private,
		IdentityPublic:  c.Identity.Public,
		RegistrationID:  c.RegistrationID,
		ServerToken:     append([]byte(nil), c.ServerToken...),
		LastUsed:        c.LastUsed,
	}
}

// RestoreFromSnapshot rebuilds a Credential from a prior Snapshot. The
// traffic cipher states are left nil; the first reconnect handshake fills
// them in once Split succeeds.
func RestoreFromSnapshot(s Snapshot) *Credential {
	return &Credential{
		Identity:       crypto.KeyPair{Private: s.IdentityPrivate, Public: s.IdentityPublic},
		RegistrationID: s.RegistrationID,
		ServerToken:    s.ServerToken,
		LastUsed:       s.LastUsed,
	}
}

// touch updates LastUsed and the live traffic keys after a successful
// handshake; called only from the dedicated session task.
func (c *Credential) touch(result transport.HandshakeResult, when time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traffic = result
	c.LastUsed = when
}
