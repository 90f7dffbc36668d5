// Package auth verifies signed contract calls. A caller signs the request
// metadata and body with its secp256k1 key; the key recovered from the
// signature is the credential presented to the wallet contract.
package auth

import (
	"container/list"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"peleon/core/accounts"
	"peleon/core/identity"
	"peleon/crypto"
	"peleon/native/wallet"
)

const (
	// HeaderAccount names the ledger account the caller acts as.
	HeaderAccount = "X-Peleon-Account"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Peleon-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Peleon-Nonce"
	// HeaderSignature carries the hex-encoded 65-byte recoverable signature.
	HeaderSignature = "X-Peleon-Signature"
	// MaxBodyForSignature is the maximum body size we will hash when authenticating.
	MaxBodyForSignature int = 1 << 20

	maxAllowedTimestampSkew  = 2 * time.Minute
	maxNonceWindow           = 10 * time.Minute
	defaultNonceCapacity     = 4096
	maxNonceCapacity         = 1 << 17
	persistencePruneInterval = time.Minute
)

var (
	ErrMissingHeader   = errors.New("auth: missing signature header")
	ErrBadSignature    = errors.New("auth: invalid signature")
	ErrStaleTimestamp  = errors.New("auth: timestamp outside allowed skew")
	ErrReplayedNonce   = errors.New("auth: nonce already used")
	ErrTimestampReplay = errors.New("auth: timestamp not increasing")
	ErrBodyTooLarge    = errors.New("auth: request body too large")
	ErrKeyNotAllowed   = errors.New("auth: signing key is not an access key of the account")
)

// KeyAuthority admits a recovered signing key as a signer for an account.
// Implementations return accounts.ErrKeyMismatch or accounts.ErrAccountLocked
// when the key may not act as the account.
type KeyAuthority interface {
	Authorize(ctx context.Context, accountID string, cred crypto.Credential) error
}

// NonceRecord captures persisted nonce usage metadata.
type NonceRecord struct {
	Signer     string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence provides durable storage for nonce usage so restarts do
// not reopen the replay window.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Options tunes a Verifier. Zero values select the defaults; values above the
// maxima are clamped.
type Options struct {
	Skew          time.Duration
	NonceTTL      time.Duration
	NonceCapacity int
	Now           func() time.Time
	Persistence   NoncePersistence
	// Keys binds accounts to their signing keys. Without it the account
	// header is taken on the caller's word.
	Keys KeyAuthority
}

// Verifier authenticates signed contract calls.
type Verifier struct {
	skew        time.Duration
	nonceTTL    time.Duration
	nowFn       func() time.Time
	persistence NoncePersistence
	keys        KeyAuthority

	nonces *nonceStore

	lastSeenMu sync.Mutex
	lastSeen   map[string]int64

	pruneMu    sync.Mutex
	lastPruned time.Time
}

func NewVerifier(opts Options) *Verifier {
	skew := opts.Skew
	if skew <= 0 || skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	ttl := opts.NonceTTL
	if ttl <= 0 || ttl > maxNonceWindow {
		ttl = maxNonceWindow
	}
	if ttl < skew {
		ttl = skew
	}
	capacity := opts.NonceCapacity
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	if capacity > maxNonceCapacity {
		capacity = maxNonceCapacity
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		skew:        skew,
		nonceTTL:    ttl,
		nowFn:       now,
		persistence: opts.Persistence,
		keys:        opts.Keys,
		nonces:      newNonceStore(ttl, capacity),
		lastSeen:    make(map[string]int64),
	}
}

// Authenticate validates the signature headers and returns the caller whose
// credential is the recovered signing key. When a KeyAuthority is configured
// the recovered key must be an access key of the claimed account.
func (v *Verifier) Authenticate(r *http.Request, body []byte) (wallet.Caller, error) {
	if len(body) > MaxBodyForSignature {
		return wallet.Caller{}, ErrBodyTooLarge
	}
	account := strings.TrimSpace(r.Header.Get(HeaderAccount))
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	sigHex := strings.TrimSpace(r.Header.Get(HeaderSignature))
	switch {
	case account == "":
		return wallet.Caller{}, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderAccount)
	case timestamp == "":
		return wallet.Caller{}, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderTimestamp)
	case nonce == "":
		return wallet.Caller{}, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderNonce)
	case sigHex == "":
		return wallet.Caller{}, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderSignature)
	}
	if err := identity.ValidateAccountID(account); err != nil {
		return wallet.Caller{}, fmt.Errorf("auth: account: %w", err)
	}
	ts, err := parseUnixTimestamp(timestamp)
	if err != nil {
		return wallet.Caller{}, fmt.Errorf("auth: invalid timestamp: %w", err)
	}
	now := v.nowFn().UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.skew {
		return wallet.Caller{}, ErrStaleTimestamp
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return wallet.Caller{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	payload := SigningPayload(account, timestamp, nonce, r.Method, CanonicalRequestPath(r), body)
	credential, err := crypto.RecoverCredential(payload, sig)
	if err != nil {
		return wallet.Caller{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	signer := account + "/" + hex.EncodeToString(credential)
	duplicate, err := v.registerNonce(r.Context(), signer, timestamp, nonce, now)
	if err != nil {
		return wallet.Caller{}, err
	}
	if duplicate {
		return wallet.Caller{}, ErrReplayedNonce
	}
	if v.isTimestampReplay(signer, ts, now) {
		return wallet.Caller{}, ErrTimestampReplay
	}
	if v.keys != nil {
		if err := v.keys.Authorize(r.Context(), account, credential); err != nil {
			if errors.Is(err, accounts.ErrKeyMismatch) || errors.Is(err, accounts.ErrAccountLocked) {
				return wallet.Caller{}, fmt.Errorf("%w: %v", ErrKeyNotAllowed, err)
			}
			return wallet.Caller{}, fmt.Errorf("auth: access keys: %w", err)
		}
	}
	return wallet.Caller{AccountID: account, Credential: credential}, nil
}

// HydrateNonces warms the in-memory cache with persisted nonce usage records.
func (v *Verifier) HydrateNonces(ctx context.Context) error {
	if v == nil || v.persistence == nil {
		return nil
	}
	cutoff := v.nowFn().UTC().Add(-v.nonceTTL)
	records, err := v.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if rec.Signer == "" || rec.Timestamp == "" || rec.Nonce == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		v.nonces.Add(compositeKey(rec.Signer, rec.Timestamp, rec.Nonce), observed)
	}
	return nil
}

func (v *Verifier) registerNonce(ctx context.Context, signer, timestamp, nonce string, now time.Time) (bool, error) {
	composite := compositeKey(signer, timestamp, nonce)
	if v.nonces.Contains(composite, now) {
		return true, nil
	}
	if v.persistence != nil {
		if err := v.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := v.persistence.EnsureNonce(ctx, NonceRecord{
			Signer:     signer,
			Timestamp:  timestamp,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			v.nonces.Add(composite, now)
			return true, nil
		}
	}
	return v.nonces.Seen(composite, now), nil
}

func (v *Verifier) prunePersistent(ctx context.Context, now time.Time) error {
	v.pruneMu.Lock()
	defer v.pruneMu.Unlock()
	if !v.lastPruned.IsZero() && now.Sub(v.lastPruned) < persistencePruneInterval {
		return nil
	}
	if err := v.persistence.PruneNonces(ctx, now.Add(-v.nonceTTL)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	v.lastPruned = now
	return nil
}

func (v *Verifier) isTimestampReplay(signer string, ts, now time.Time) bool {
	cutoff := now.Add(-v.skew).Unix()
	current := ts.Unix()

	v.lastSeenMu.Lock()
	defer v.lastSeenMu.Unlock()

	last, ok := v.lastSeen[signer]
	if ok && last >= cutoff && current < last {
		return true
	}
	if !ok || current > last || last < cutoff {
		v.lastSeen[signer] = current
	}
	return false
}

// SignRequest sets the signature headers on req for a call made as account.
// Clients use it with the same body bytes they send.
func SignRequest(req *http.Request, key *crypto.PrivateKey, account, nonce string, body []byte, now time.Time) error {
	if key == nil {
		return errors.New("auth: signing key required")
	}
	timestamp := strconv.FormatInt(now.Unix(), 10)
	payload := SigningPayload(account, timestamp, nonce, req.Method, CanonicalRequestPath(req), body)
	sig, err := key.Sign(payload)
	if err != nil {
		return fmt.Errorf("auth: sign request: %w", err)
	}
	req.Header.Set(HeaderAccount, account)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return nil
}

// SigningPayload is the byte string covered by a call signature.
func SigningPayload(account, timestamp, nonce, method, path string, body []byte) []byte {
	return []byte(strings.Join([]string{"peleon-call-v1", account, timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n"))
}

// CanonicalRequestPath normalises URL paths and query ordering for signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

func compositeKey(signer, timestamp, nonce string) string {
	return signer + "|" + timestamp + "|" + nonce
}

// nonceStore is a TTL-bounded LRU of observed nonces.
type nonceStore struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	ts  time.Time
}

func newNonceStore(ttl time.Duration, capacity int) *nonceStore {
	return &nonceStore{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Seen reports whether key was observed within the TTL, recording it if not.
func (n *nonceStore) Seen(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	if _, exists := n.entries[key]; exists {
		return true
	}
	n.insertLocked(key, now)
	return false
}

func (n *nonceStore) Contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	_, exists := n.entries[key]
	return exists
}

func (n *nonceStore) Add(key string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	n.insertLocked(key, now)
}

func (n *nonceStore) insertLocked(key string, now time.Time) {
	if elem, exists := n.entries[key]; exists {
		elem.Value = nonceEntry{key: key, ts: now}
		n.order.MoveToBack(elem)
		return
	}
	for n.order.Len() >= n.capacity {
		front := n.order.Front()
		n.order.Remove(front)
		delete(n.entries, front.Value.(nonceEntry).key)
	}
	n.entries[key] = n.order.PushBack(nonceEntry{key: key, ts: now})
}

func (n *nonceStore) evictExpired(cutoff time.Time) {
	for front := n.order.Front(); front != nil; front = n.order.Front() {
		entry := front.Value.(nonceEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		n.order.Remove(front)
		delete(n.entries, entry.key)
	}
}
