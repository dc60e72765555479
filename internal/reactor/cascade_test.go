package reactor

import (
	"testing"
	"time"

	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCascadeGuard_Depth(t *testing.T) {
	g, err := newCascadeGuard(3, 16)
	require.NoError(t, err)

	assert.NoError(t, g.checkDepth(0))
	assert.NoError(t, g.checkDepth(2))
	assert.ErrorIs(t, g.checkDepth(3), recalcerr.ErrCascadeBlocked)
}

func TestCascadeGuard_RepeatedValueInChain(t *testing.T) {
	g, err := newCascadeGuard(8, 16)
	require.NoError(t, err)

	require.NoError(t, g.record("c1", "invoice.total", "inv-a", 15))
	require.NoError(t, g.record("c1", "invoice.total", "inv-a", 16))
	assert.ErrorIs(t, g.record("c1", "invoice.total", "inv-a", 15), recalcerr.ErrCascadeBlocked)

	// Other chains, records and formulas are independent.
	assert.NoError(t, g.record("c2", "invoice.total", "inv-a", 15))
	assert.NoError(t, g.record("c1", "invoice.total", "inv-b", 15))
	assert.NoError(t, g.record("c1", "customer.revenue", "inv-a", 15))
}

func TestCascadeGuard_ForgetUndoesRecord(t *testing.T) {
	g, err := newCascadeGuard(8, 16)
	require.NoError(t, err)

	require.NoError(t, g.record("c1", "invoice.total", "inv-a", 15))
	g.forget("c1", "invoice.total", "inv-a", 15)
	require.NoError(t, g.record("c1", "invoice.total", "inv-a", 15))
	assert.ErrorIs(t, g.record("c1", "invoice.total", "inv-a", 15), recalcerr.ErrCascadeBlocked)

	// Unknown chains and values are a no-op.
	g.forget("c9", "invoice.total", "inv-a", 15)
	g.forget("c1", "invoice.total", "inv-a", 99)
	assert.ErrorIs(t, g.record("c1", "invoice.total", "inv-a", 15), recalcerr.ErrCascadeBlocked)
}

func TestCascadeGuard_ForgetsOldChains(t *testing.T) {
	g, err := newCascadeGuard(8, 1)
	require.NoError(t, err)

	require.NoError(t, g.record("c1", "invoice.total", "inv-a", 15))
	require.NoError(t, g.record("c2", "invoice.total", "inv-a", 15))
	assert.NoError(t, g.record("c1", "invoice.total", "inv-a", 15))
}

func TestCascadeGuard_InvalidHistorySize(t *testing.T) {
	_, err := newCascadeGuard(8, 0)
	assert.Error(t, err)
}

func TestQuarantine(t *testing.T) {
	q := newQuarantine(2, 16, time.Minute)

	assert.False(t, q.blocked("invoice.total", "inv-a"))
	assert.False(t, q.fail("invoice.total", "inv-a"))
	assert.False(t, q.blocked("invoice.total", "inv-a"))
	assert.True(t, q.fail("invoice.total", "inv-a"))
	assert.True(t, q.blocked("invoice.total", "inv-a"))
	assert.False(t, q.blocked("invoice.total", "inv-b"))

	q.succeed("invoice.total", "inv-a")
	assert.False(t, q.blocked("invoice.total", "inv-a"))
}

func TestQuarantine_Expires(t *testing.T) {
	q := newQuarantine(1, 16, 20*time.Millisecond)

	require.True(t, q.fail("invoice.total", "inv-a"))
	require.True(t, q.blocked("invoice.total", "inv-a"))

	assert.Eventually(t, func() bool {
		return !q.blocked("invoice.total", "inv-a")
	}, time.Second, 10*time.Millisecond)
}
