// Package ledger implements the append-only, authenticated record of every
// enforcement decision.
//
// Each entry carries an HMAC-SHA256 authentication tag over its canonical
// serialization, keyed by a deployment-wide secret, plus the hash of the
// previous entry. Tag verification uses constant-time comparison; the first
// mismatch marks that entry and, conservatively, everything after it as
// untrusted. No API exists to rewrite or delete an entry.
package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mereon-labs/keel/pkg/canonical"
)

// GenesisHash is the prev_hash of the first entry in a new ledger.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrLedgerWrite signals the append-and-sign step could not complete.
	// A decision whose entry cannot be durably written is never final.
	ErrLedgerWrite = errors.New("ledger: write failed")

	// ErrTamperDetected signals verification found an authentication
	// mismatch. Critical, non-retryable, never auto-corrected.
	ErrTamperDetected = errors.New("ledger: tamper detected")
)

// Entry is one immutable ledger record.
type Entry struct {
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	TenantID   string    `json:"tenant_id"`
	SystemID   string    `json:"system_id"`
	TaskHash   string    `json:"task_hash"`
	Outcome    string    `json:"outcome"`
	RiskScore  float64   `json:"risk_score"`
	Categories []string  `json:"detected_categories,omitempty"`
	Confidence float64   `json:"confidence"`
	PolicyHash string    `json:"policy_hash"`
	PrevHash   string    `json:"prev_hash"`
	AuthTag    string    `json:"auth_tag"`
}

// Store persists entries. Implementations only ever append; ordering and
// chaining are the Ledger's responsibility.
type Store interface {
	// Append durably writes one entry.
	Append(ctx context.Context, entry Entry) error

	// All returns every stored entry in append order.
	All(ctx context.Context) ([]Entry, error)
}

// Config holds ledger settings.
type Config struct {
	// MinRetention is the regulatory minimum horizon entries must be kept.
	// The ledger itself never deletes; the value is surfaced so operators
	// can align external archival with the requirement.
	MinRetention time.Duration
}

// Ledger signs and chains entries over a Store. Appends serialize through
// one lock, the only required lock in the system, so sequence numbers stay
// strictly monotonic under concurrent writers.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	key      []byte
	seq      uint64
	prevHash string
	cfg      Config
	clock    func() time.Time
}

// Open creates a Ledger over the store, recovering the chain tail from any
// existing entries.
func Open(ctx context.Context, store Store, key []byte, cfg Config) (*Ledger, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("ledger: signing key required")
	}

	l := &Ledger{
		store:    store,
		key:      key,
		prevHash: GenesisHash,
		cfg:      cfg,
		clock:    time.Now,
	}

	existing, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: recover chain tail: %w", err)
	}
	if n := len(existing); n > 0 {
		last := existing[n-1]
		l.seq = last.Sequence
		l.prevHash = entryHash(last)
	}

	return l, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// MinRetention returns the configured minimum retention horizon.
func (l *Ledger) MinRetention() time.Duration {
	return l.cfg.MinRetention
}

// Append assigns the next sequence number, chains, signs and durably
// writes the entry. On store failure the chain state is left untouched and
// ErrLedgerWrite is returned.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Sequence = l.seq + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock().UTC()
	}
	entry.PrevHash = l.prevHash

	tag, err := l.sign(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	entry.AuthTag = tag

	if err := l.store.Append(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	l.seq = entry.Sequence
	l.prevHash = entryHash(entry)
	return entry, nil
}

// Report is the result of a verification pass.
type Report struct {
	Valid             bool `json:"valid"`
	Entries           int  `json:"entries"`
	FirstInvalidIndex *int `json:"first_invalid_index,omitempty"`
}

// Verify recomputes every stored entry's authentication tag and chain
// link. The first failing index is reported; entries before it remain
// trusted, everything from it on is not.
func (l *Ledger) Verify(ctx context.Context) (Report, error) {
	entries, err := l.store.All(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("ledger: read for verify: %w", err)
	}
	return l.VerifyEntries(entries), nil
}

// VerifyEntries verifies an explicit slice of entries, e.g. an exported
// evidence bundle.
func (l *Ledger) VerifyEntries(entries []Entry) Report {
	report := Report{Valid: true, Entries: len(entries)}

	prevHash := GenesisHash
	var prevSeq uint64
	for i, entry := range entries {
		if entry.PrevHash != prevHash || entry.Sequence != prevSeq+1 {
			return invalidAt(report, i)
		}

		expected, err := l.sign(entry)
		if err != nil {
			return invalidAt(report, i)
		}
		if !hmac.Equal([]byte(expected), []byte(entry.AuthTag)) {
			return invalidAt(report, i)
		}

		prevHash = entryHash(entry)
		prevSeq = entry.Sequence
	}

	return report
}

func invalidAt(report Report, index int) Report {
	report.Valid = false
	report.FirstInvalidIndex = &index
	return report
}

// sign computes the HMAC tag over the entry's canonical form with an empty
// AuthTag field.
func (l *Ledger) sign(entry Entry) (string, error) {
	entry.AuthTag = ""
	data, err := canonical.Marshal(entry)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, l.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// entryHash hashes the complete signed entry for chaining.
func entryHash(entry Entry) string {
	data, err := canonical.Marshal(entry)
	if err != nil {
		// Entries are plain data; canonical marshal cannot fail for values
		// the ledger itself produced.
		return GenesisHash
	}
	return canonical.HashBytes(data)
}
