package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveResolvesPendingReview(t *testing.T) {
	m := NewManager(5 * time.Minute)
	ctx := context.Background()

	review, err := m.Create(ctx, "tenant-1", "sys-1", "sha256:aaaa", 6.2, "risk above autonomy limit")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, review.Status)
	assert.Equal(t, 1, m.PendingCount())

	receipt, err := m.Approve(ctx, review.ID, "operator-7")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, receipt.Outcome)
	assert.Equal(t, "operator-7", receipt.ResolvedBy)
	assert.NotEmpty(t, receipt.ContentHash)
	assert.Equal(t, 0, m.PendingCount())
}

func TestDenyRecordsOperatorNote(t *testing.T) {
	m := NewManager(5 * time.Minute)
	ctx := context.Background()

	review, err := m.Create(ctx, "tenant-1", "sys-1", "sha256:aaaa", 7.0, "escalated")
	require.NoError(t, err)

	receipt, err := m.Deny(ctx, review.ID, "operator-7", "policy forbids this vendor")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, receipt.Outcome)

	stored, err := m.Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, "policy forbids this vendor", stored.Note)
}

func TestResolveTwiceFails(t *testing.T) {
	m := NewManager(5 * time.Minute)
	ctx := context.Background()

	review, err := m.Create(ctx, "tenant-1", "sys-1", "sha256:aaaa", 6.0, "escalated")
	require.NoError(t, err)

	_, err = m.Approve(ctx, review.ID, "op-1")
	require.NoError(t, err)

	_, err = m.Deny(ctx, review.ID, "op-2", "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestUnknownReviewID(t *testing.T) {
	m := NewManager(5 * time.Minute)

	_, err := m.Approve(context.Background(), "no-such-review", "op-1")
	assert.ErrorIs(t, err, ErrReviewNotFound)
}

func TestLateApprovalBecomesExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(5 * time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	review, err := m.Create(ctx, "tenant-1", "sys-1", "sha256:aaaa", 6.0, "escalated")
	require.NoError(t, err)

	// Operator shows up after the deadline: approval no longer possible.
	now = now.Add(6 * time.Minute)
	receipt, err := m.Approve(ctx, review.ID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, receipt.Outcome)
	assert.Empty(t, receipt.ResolvedBy)
}

func TestExpireDueSweepsOnlyOverdue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(5 * time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	old, err := m.Create(ctx, "tenant-1", "sys-1", "sha256:aaaa", 6.0, "escalated")
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)
	fresh, err := m.Create(ctx, "tenant-1", "sys-2", "sha256:bbbb", 6.5, "escalated")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	receipts, err := m.ExpireDue(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, old.ID, receipts[0].ReviewID)
	assert.Equal(t, StatusExpired, receipts[0].Outcome)

	stored, err := m.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestReturnedReviewIsDetached(t *testing.T) {
	m := NewManager(5 * time.Minute)
	ctx := context.Background()

	review, err := m.Create(ctx, "tenant-1", "sys-1", "sha256:aaaa", 6.0, "escalated")
	require.NoError(t, err)

	review.Status = StatusApproved

	stored, err := m.Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}
