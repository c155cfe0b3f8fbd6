package session

import (
	"testing"
	"time"

	"github.com/duskrelay/wasession/internal/crypto"
	"github.com/duskrelay/wasession/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestCredentialSnapshotRestoreRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cred := &Credential{
		Identity:       kp,
		RegistrationID: 0xABCD1234,
		ServerToken:    []byte("server-token"),
		LastUsed:       time.Unix(1700000000, 0),
	}

	snap := cred.Snapshot()
	restored := RestoreFromSnapshot(snap)

	require.Equal(t, cred.Identity, restored.Identity)
	require.Equal(t, cred.RegistrationID, restored.RegistrationID)
	require.Equal(t, cred.ServerToken, restored.ServerToken)
	require.True(t, cred.LastUsed.Equal(restored.LastUsed))
}

func TestCredentialSnapshotIsDefensiveCopy(t *testing.T) {
	cred := &Credential{ServerToken: []byte("token")}
	snap := cred.Snapshot()
	snap.ServerToken[0] = 'X'
	require.Equal(t, "token", string(cred.ServerToken), "mutating the snapshot must not alter the credential")
}

func TestCredentialTouchUpdatesLastUsed(t *testing.T) {
	cred := &Credential{}
	when := time.Unix(1234, 0)
	cred.touch(transport.HandshakeResult{}, when)
	require.True(t, cred.LastUsed.Equal(when))
}
