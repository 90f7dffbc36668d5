package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLevelDBNoncesSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces")
	backend, err := OpenLevelDBNonces(path)
	require.NoError(t, err)

	key := newKey(t)
	opts := Options{NonceTTL: 5 * time.Minute, Now: func() time.Time { return testNow }, Persistence: backend}
	_, err = NewVerifier(opts).Authenticate(signedRequest(t, key, "alice.ledger", "restart", nil, testNow), nil)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	reopened, err := OpenLevelDBNonces(path)
	require.NoError(t, err)
	defer reopened.Close()

	opts.Persistence = reopened
	v := NewVerifier(opts)
	require.NoError(t, v.HydrateNonces(context.Background()))
	_, err = v.Authenticate(signedRequest(t, key, "alice.ledger", "restart", nil, testNow), nil)
	require.True(t, errors.Is(err, ErrReplayedNonce), "got %v", err)
}

func TestLevelDBNoncesPrune(t *testing.T) {
	backend, err := OpenLevelDBNonces(filepath.Join(t.TempDir(), "nonces"))
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	old := NonceRecord{Signer: "alice.ledger/aa", Timestamp: "1", Nonce: "old", ObservedAt: testNow.Add(-time.Hour)}
	fresh := NonceRecord{Signer: "alice.ledger/aa", Timestamp: "2", Nonce: "fresh", ObservedAt: testNow}
	for _, rec := range []NonceRecord{old, fresh} {
		existed, err := backend.EnsureNonce(ctx, rec)
		require.NoError(t, err)
		require.False(t, existed)
	}
	existed, err := backend.EnsureNonce(ctx, fresh)
	require.NoError(t, err)
	require.True(t, existed)

	recent, err := backend.RecentNonces(ctx, testNow.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "fresh", recent[0].Nonce)
	require.Equal(t, "alice.ledger/aa", recent[0].Signer)

	require.NoError(t, backend.PruneNonces(ctx, testNow.Add(-time.Minute)))
	existed, err = backend.EnsureNonce(ctx, old)
	require.NoError(t, err)
	require.False(t, existed, "pruned nonce should be accepted again")
}
