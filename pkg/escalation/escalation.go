// Package escalation tracks human review of decisions the engine could not
// resolve on its own.
//
// When an evaluation lands between the blocking threshold and the autonomy
// limit, the engine parks it here as a pending Review. An operator approves
// or denies it; a review nobody resolves before its deadline is denied, the
// conservative outcome.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mereon-labs/keel/pkg/canonical"
)

// Status is the lifecycle state of a Review.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
	StatusExpired  Status = "EXPIRED"
)

var (
	// ErrReviewNotFound signals an unknown review ID.
	ErrReviewNotFound = errors.New("escalation: review not found")
	// ErrAlreadyResolved signals the review left PENDING before this call.
	ErrAlreadyResolved = errors.New("escalation: review already resolved")
)

// Review is one escalated decision awaiting an operator.
type Review struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	SystemID   string    `json:"system_id"`
	TaskHash   string    `json:"task_hash"`
	RiskScore  float64   `json:"risk_score"`
	Reason     string    `json:"reason"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ResolvedAt time.Time `json:"resolved_at,omitzero"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Receipt is the immutable record of a resolved review.
type Receipt struct {
	ReviewID    string        `json:"review_id"`
	Outcome     Status        `json:"outcome"`
	ResolvedBy  string        `json:"resolved_by,omitempty"`
	ResolvedAt  time.Time     `json:"resolved_at"`
	Duration    time.Duration `json:"duration_ms"`
	ContentHash string        `json:"content_hash"`
}

// Manager owns the review lifecycle. All state is in memory and
// mutex-guarded; reviews do not survive a restart, which is acceptable
// because an unresolved review is equivalent to a denial.
type Manager struct {
	mu      sync.Mutex
	reviews map[string]*Review
	timeout time.Duration
	clock   func() time.Time
}

// NewManager creates a Manager whose reviews expire after timeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Manager{
		reviews: make(map[string]*Review),
		timeout: timeout,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Create opens a pending review for an escalated decision.
func (m *Manager) Create(ctx context.Context, tenantID, systemID, taskHash string, riskScore float64, reason string) (*Review, error) {
	_ = ctx
	now := m.clock()

	review := &Review{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SystemID:  systemID,
		TaskHash:  taskHash,
		RiskScore: riskScore,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
	}

	m.mu.Lock()
	m.reviews[review.ID] = review
	m.mu.Unlock()

	return copyReview(review), nil
}

// Approve resolves a pending review in favor of the action. Approving an
// already-expired review records the expiry instead; the deadline is not
// negotiable after the fact.
func (m *Manager) Approve(ctx context.Context, reviewID, operatorID string) (*Receipt, error) {
	return m.resolve(ctx, reviewID, operatorID, "", StatusApproved)
}

// Deny resolves a pending review against the action.
func (m *Manager) Deny(ctx context.Context, reviewID, operatorID, note string) (*Receipt, error) {
	return m.resolve(ctx, reviewID, operatorID, note, StatusDenied)
}

func (m *Manager) resolve(ctx context.Context, reviewID, operatorID, note string, outcome Status) (*Receipt, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	review, ok := m.reviews[reviewID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	if review.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, reviewID, review.Status)
	}

	now := m.clock()
	if now.After(review.ExpiresAt) {
		outcome = StatusExpired
		operatorID = ""
	}

	review.Status = outcome
	review.ResolvedAt = now
	review.ResolvedBy = operatorID
	review.Note = note

	return m.receipt(review)
}

// ExpireDue marks every pending review past its deadline as expired and
// returns their receipts.
func (m *Manager) ExpireDue(ctx context.Context) ([]*Receipt, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var receipts []*Receipt
	for _, review := range m.reviews {
		if review.Status != StatusPending || !now.After(review.ExpiresAt) {
			continue
		}
		review.Status = StatusExpired
		review.ResolvedAt = now
		r, err := m.receipt(review)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// Get returns a review by ID.
func (m *Manager) Get(reviewID string) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	review, ok := m.reviews[reviewID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	return copyReview(review), nil
}

// PendingCount returns the number of unresolved reviews.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, review := range m.reviews {
		if review.Status == StatusPending {
			count++
		}
	}
	return count
}

func (m *Manager) receipt(review *Review) (*Receipt, error) {
	hash, err := canonical.Hash(struct {
		ReviewID string `json:"review_id"`
		Outcome  Status `json:"outcome"`
		By       string `json:"resolved_by"`
	}{review.ID, review.Status, review.ResolvedBy})
	if err != nil {
		return nil, fmt.Errorf("escalation: receipt hash: %w", err)
	}

	return &Receipt{
		ReviewID:    review.ID,
		Outcome:     review.Status,
		ResolvedBy:  review.ResolvedBy,
		ResolvedAt:  review.ResolvedAt,
		Duration:    review.ResolvedAt.Sub(review.CreatedAt),
		ContentHash: hash,
	}, nil
}

func copyReview(review *Review) *Review {
	c := *review
	return &c
}
