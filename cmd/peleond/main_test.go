package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"peleon/config"
	"peleon/core/accounts"
	"peleon/core/runtime"
	"peleon/crypto"
	"peleon/native/token"
	"peleon/observability/logging"
	"peleon/storage"
)

func TestApplyGenesisRunsOnce(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemDB()
	ledger := token.NewLedger(db, "CHIRON")
	keys := accounts.NewKeyring(db)
	allocs := []config.Allocation{
		{Account: "treasury.peleon", Amount: "1000"},
		{Account: "ops.peleon", Amount: "24"},
	}
	require.NoError(t, applyGenesis(ctx, ledger, keys, allocs, logging.Discard()))
	require.NoError(t, applyGenesis(ctx, ledger, keys, allocs, logging.Discard()))

	supply, err := ledger.TotalSupply(ctx, token.QueryGas)
	require.NoError(t, err)
	require.Equal(t, "1024", supply.Dec())
	balance, err := ledger.BalanceOf(ctx, "ops.peleon", token.QueryGas)
	require.NoError(t, err)
	require.Equal(t, "24", balance.Dec())
}

func TestApplyGenesisRejectsBadAmount(t *testing.T) {
	ledger := token.NewLedger(storage.NewMemDB(), "CHIRON")
	err := applyGenesis(context.Background(), ledger, accounts.NewKeyring(storage.NewMemDB()), []config.Allocation{{Account: "treasury.peleon", Amount: "-1"}}, logging.Discard())
	require.Error(t, err)
}

func TestOpenStorageBackends(t *testing.T) {
	dir := t.TempDir()
	for _, cfg := range []config.Storage{
		{Backend: "memory"},
		{Backend: "leveldb", Path: filepath.Join(dir, "level")},
		{Backend: "bolt", Path: filepath.Join(dir, "bolt", "state.db")},
	} {
		db, err := openStorage(cfg)
		require.NoError(t, err, cfg.Backend)
		require.NoError(t, db.Put([]byte("k"), []byte("v")))
		require.NoError(t, db.Close())
	}
}

func TestCheckDeploymentToleratesUninitialized(t *testing.T) {
	rt := runtime.New(storage.NewMemDB(), runtime.WithLogger(logging.Discard()))
	checkDeployment(context.Background(), rt, config.Default().Contract, logging.Discard())
}

func TestGenesisKeysProtectAllocations(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemDB()
	ledger := token.NewLedger(db, "CHIRON")
	keys := accounts.NewKeyring(db, accounts.WithReserved(reservedAccounts(ledger, config.Contract{ID: "wallet.peleon", GatewayContractID: "chiron.peleon"})))
	owner, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	stranger, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	allocs := []config.Allocation{
		{Account: "treasury.peleon", Amount: "1000", Credential: owner.PubKey().Credential().String()},
		{Account: "ops.peleon", Amount: "24"},
	}
	require.NoError(t, applyGenesis(ctx, ledger, keys, allocs, logging.Discard()))

	require.NoError(t, keys.Authorize(ctx, "treasury.peleon", owner.PubKey().Credential()))
	require.ErrorIs(t, keys.Authorize(ctx, "treasury.peleon", stranger.PubKey().Credential()), accounts.ErrKeyMismatch)
	require.ErrorIs(t, keys.Authorize(ctx, "ops.peleon", stranger.PubKey().Credential()), accounts.ErrAccountLocked)
	require.ErrorIs(t, keys.Authorize(ctx, "wallet.peleon", stranger.PubKey().Credential()), accounts.ErrAccountLocked)
	require.ErrorIs(t, keys.Authorize(ctx, "alice.wallet.peleon", stranger.PubKey().Credential()), accounts.ErrAccountLocked)
	require.NoError(t, keys.Authorize(ctx, "stranger.peleon", stranger.PubKey().Credential()))
}
