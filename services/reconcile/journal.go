// Package reconcile keeps an operator-facing journal of settled remote
// intents. Local account changes commit before their remote counterpart runs
// and nothing confirms the remote side, so the journal is where operators find
// local commits whose remote effect failed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"peleon/native/wallet"
)

// Supported journal drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the journal database and migrates its schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("reconcile: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("reconcile: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("reconcile: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("reconcile: migrate: %w", err)
	}
	return db, nil
}

// Journal records settled intents of one contract.
type Journal struct {
	db       *gorm.DB
	contract string
	now      func() time.Time
}

// NewJournal constructs a journal for contract.
func NewJournal(db *gorm.DB, contract string) (*Journal, error) {
	if db == nil {
		return nil, errors.New("reconcile: database required")
	}
	return &Journal{db: db, contract: contract, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SetNowFunc overrides the journal clock.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// Record upserts intent keyed by contract and sequence.
func (j *Journal) Record(ctx context.Context, intent *wallet.Intent) error {
	if intent == nil {
		return errors.New("reconcile: nil intent")
	}
	rec := IntentRecord{
		ID:         uuid.New(),
		Contract:   j.contract,
		Seq:        intent.Seq,
		Kind:       string(intent.Kind),
		Origin:     intent.Origin,
		Target:     intent.Target,
		Recipient:  intent.Recipient,
		Owner:      intent.Owner,
		SubAccount: intent.SubAccount,
		Gas:        fmt.Sprintf("%d", intent.Gas),
		Status:     intent.Status.String(),
		Reason:     intent.Reason,
		RecordedAt: time.Unix(int64(intent.CreatedAt), 0).UTC(),
		SettledAt:  j.now(),
	}
	if intent.Amount != nil {
		rec.Amount = intent.Amount.String()
	}
	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}, {Name: "seq"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "reason", "settled_at", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("reconcile: record intent %d: %w", intent.Seq, err)
	}
	return nil
}

// Failed lists intents whose remote effect never happened, oldest first.
func (j *Journal) Failed(ctx context.Context, limit int) ([]IntentRecord, error) {
	var out []IntentRecord
	q := j.db.WithContext(ctx).
		Where("contract = ? AND status = ?", j.contract, wallet.IntentFailed.String()).
		Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("reconcile: list failed: %w", err)
	}
	return out, nil
}

// Window lists intents recorded in [start, end).
func (j *Journal) Window(ctx context.Context, start, end time.Time) ([]IntentRecord, error) {
	var out []IntentRecord
	err := j.db.WithContext(ctx).
		Where("contract = ? AND recorded_at >= ? AND recorded_at < ?", j.contract, start.UTC(), end.UTC()).
		Order("seq asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("reconcile: list window: %w", err)
	}
	return out, nil
}
