package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	nonceKeyPrefix    = "nonce/"
	observedKeyPrefix = "observed/"
)

// LevelDBNonces persists observed nonces in a LevelDB database. Each nonce is
// stored twice: by composite key for lookups and by observation time for
// pruning.
type LevelDBNonces struct {
	db *leveldb.DB
}

// OpenLevelDBNonces opens (or creates) the nonce database at path.
func OpenLevelDBNonces(path string) (*LevelDBNonces, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("leveldb nonce path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb nonce path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb nonce store: %w", err)
	}
	return &LevelDBNonces{db: db}, nil
}

func (p *LevelDBNonces) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// EnsureNonce records a nonce and reports whether it had been seen before.
func (p *LevelDBNonces) EnsureNonce(_ context.Context, record NonceRecord) (bool, error) {
	if record.Signer == "" || record.Timestamp == "" || record.Nonce == "" {
		return false, errors.New("nonce record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	composite := compositeKey(record.Signer, record.Timestamp, record.Nonce)
	nonceKey := []byte(nonceKeyPrefix + composite)

	_, err := p.db.Get(nonceKey, nil)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, leveldb.ErrNotFound):
		return false, fmt.Errorf("load nonce: %w", err)
	}

	nanos := observed.UnixNano()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	batch := new(leveldb.Batch)
	batch.Put(nonceKey, buf)
	batch.Put(observedKey(nanos, composite), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return false, nil
}

// RecentNonces returns nonces observed at or after cutoff.
func (p *LevelDBNonces) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	iter := p.db.NewIterator(&util.Range{
		Start: observedKey(cutoff.UTC().UnixNano(), ""),
		Limit: util.BytesPrefix([]byte(observedKeyPrefix)).Limit,
	}, nil)
	defer iter.Release()

	var records []NonceRecord
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		composite, nanos, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		parts := strings.SplitN(composite, "|", 3)
		if len(parts) != 3 {
			continue
		}
		records = append(records, NonceRecord{
			Signer:     parts[0],
			Timestamp:  parts[1],
			Nonce:      parts[2],
			ObservedAt: time.Unix(0, nanos).UTC(),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate observed nonces: %w", err)
	}
	return records, nil
}

// PruneNonces deletes nonces observed before cutoff.
func (p *LevelDBNonces) PruneNonces(ctx context.Context, cutoff time.Time) error {
	iter := p.db.NewIterator(&util.Range{
		Start: []byte(observedKeyPrefix),
		Limit: observedKey(cutoff.UTC().UnixNano(), ""),
	}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		composite, _, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(nonceKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate observed nonces: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := p.db.Write(batch, nil); err != nil {
		return fmt.Errorf("prune nonces: %w", err)
	}
	return nil
}

func observedKey(nanos int64, composite string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", observedKeyPrefix, nanos, composite))
}

func parseObservedKey(key []byte) (string, int64, bool) {
	rest := strings.TrimPrefix(string(key), observedKeyPrefix)
	stamp, composite, ok := strings.Cut(rest, "/")
	if !ok {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return composite, nanos, true
}
