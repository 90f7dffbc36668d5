package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"peleon/native/wallet"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	j, err := NewJournal(db, "wallet.ledger")
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	j.SetNowFunc(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) })
	return j
}

func TestJournalRecordUpserts(t *testing.T) {
	ctx := context.Background()
	j := setupJournal(t)
	recorded := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)

	intent := &wallet.Intent{
		Seq:       1,
		Kind:      wallet.IntentTransfer,
		Origin:    "alice.ledger",
		Target:    "chiron.ledger",
		Recipient: "bob",
		Amount:    big.NewInt(100),
		Gas:       wallet.DefaultSingleCallGas,
		Status:    wallet.IntentFailed,
		Reason:    "token: insufficient balance",
		CreatedAt: uint64(recorded.Unix()),
	}
	require.NoError(t, j.Record(ctx, intent))
	intent.Status = wallet.IntentDispatched
	intent.Reason = ""
	require.NoError(t, j.Record(ctx, intent))

	failed, err := j.Failed(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, failed)

	rows, err := j.Window(ctx, recorded.Add(-time.Minute), recorded.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "dispatched", rows[0].Status)
	require.Equal(t, "100", rows[0].Amount)
	require.Equal(t, "1000000000000000000", rows[0].Gas)
}

func TestJournalReport(t *testing.T) {
	ctx := context.Background()
	j := setupJournal(t)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, status := range []wallet.IntentStatus{wallet.IntentDispatched, wallet.IntentFailed, wallet.IntentDispatched} {
		require.NoError(t, j.Record(ctx, &wallet.Intent{
			Seq:        uint64(i + 1),
			Kind:       wallet.IntentCreateLedgerAccount,
			SubAccount: fmt.Sprintf("user%d.wallet.ledger", i),
			Status:     status,
			CreatedAt:  uint64(base.Add(time.Duration(i) * time.Minute).Unix()),
		}))
	}

	failed, err := j.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, uint64(2), failed[0].Seq)

	dir := t.TempDir()
	summary, err := j.Report(ctx, dir, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Dispatched)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 3, summary.ByKind[string(wallet.IntentCreateLedgerAccount)])
	require.FileExists(t, summary.CSVPath)
	require.FileExists(t, summary.Parquet)
	require.Equal(t, dir, filepath.Dir(summary.CSVPath))

	empty, err := j.Report(ctx, dir, base.Add(24*time.Hour), base.Add(25*time.Hour))
	require.NoError(t, err)
	require.Zero(t, empty.Total)
	require.Empty(t, empty.CSVPath)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	require.Error(t, err)
	_, err = Open(DriverPostgres, "")
	require.Error(t, err)
}
