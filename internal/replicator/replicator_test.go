package replicator

import (
	"testing"
	"time"

	"github.com/cuemby/biblored/internal/oplog"
	"github.com/cuemby/biblored/internal/storage"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReplicator(t *testing.T, nodeID string, snapshotIntervalOps, retainLastN int) (*Replicator, *oplog.Log, *storage.Manager) {
	t.Helper()
	ol, err := oplog.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ol.Close() })

	sm, err := storage.New(t.TempDir(), nodeID, ol, 2, 14)
	require.NoError(t, err)
	require.NoError(t, sm.Seed([]storage.Book{{Code: "ISBN-0001", Title: "t", Available: true}}))

	r := New(nodeID, sm, ol, nil, nil, "repl."+nodeID, snapshotIntervalOps, retainLastN, zerolog.Nop())
	return r, ol, sm
}

// TestApplyInboundDropsSelfPublishedEntries is P7: a wildcard subscription
// hands every site's own publications back to it, and applyInbound must
// recognize and discard its own SourceNode rather than loop the mutation.
func TestApplyInboundDropsSelfPublishedEntries(t *testing.T) {
	r, ol, sm := newTestReplicator(t, "A", 1000, 100)

	entry := wire.OpLogEntry{ID: "op-1", Op: wire.OpPrestar, Code: "ISBN-0001", UserID: "u-1", SourceNode: "A"}
	r.applyInbound(entry)

	assert.False(t, ol.IsOperationApplied("op-1"))
	book, ok := sm.BookView("ISBN-0001")
	require.True(t, ok)
	assert.True(t, book.Available, "a self-published entry must never be re-applied")
}

func TestApplyInboundAppliesRemoteEntryOnce(t *testing.T) {
	r, ol, sm := newTestReplicator(t, "A", 1000, 100)

	entry := wire.OpLogEntry{ID: "op-2", Op: wire.OpPrestar, Code: "ISBN-0001", UserID: "u-1", SourceNode: "B", TsMs: time.Now().UnixMilli()}
	r.applyInbound(entry)

	assert.True(t, ol.IsOperationApplied("op-2"))
	book, ok := sm.BookView("ISBN-0001")
	require.True(t, ok)
	assert.False(t, book.Available)

	// Re-delivery of the same id (at-least-once transport) must be a no-op,
	// not a double-apply.
	r.applyInbound(entry)
	loan, ok := sm.LoanView("ISBN-0001", "u-1")
	require.True(t, ok)
	assert.Equal(t, 0, loan.Renewals)
}

func TestApplyInboundDropsRejectedBusinessRule(t *testing.T) {
	r, ol, sm := newTestReplicator(t, "A", 1000, 100)

	// No active loan for u-1 yet, so a remote RENOVAR must be rejected by
	// SM's own business rules and never reach the OL.
	entry := wire.OpLogEntry{ID: "op-3", Op: wire.OpRenovar, Code: "ISBN-0001", UserID: "u-1", DueDateNew: "2026-02-01", SourceNode: "B"}
	r.applyInbound(entry)

	assert.False(t, ol.IsOperationApplied("op-3"))
	_, ok := sm.LoanView("ISBN-0001", "u-1")
	assert.False(t, ok)
}

func TestMaybeSnapshotTruncatesOnceThresholdCrossed(t *testing.T) {
	r, ol, sm := newTestReplicator(t, "A", 3, 1)

	res, err := sm.CheckAndLoan("loan-1", "ISBN-0001", "u-1")
	require.NoError(t, err)
	require.True(t, res.OK)
	res, err = sm.Devolver("ret-1", "ISBN-0001", "u-1")
	require.NoError(t, err)
	require.True(t, res.OK)
	res, err = sm.CheckAndLoan("loan-2", "ISBN-0001", "u-2")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 3, ol.Size())

	r.maybeSnapshot()
	r.maybeSnapshot()
	// Threshold of 3 crossed on the third call: Truncate(1) should have run
	// and the counter reset, retaining only the most recent entry.
	r.maybeSnapshot()
	assert.Equal(t, 1, ol.Size())

	sizeAfterTruncate := ol.Size()
	r.maybeSnapshot()
	r.maybeSnapshot()
	assert.Equal(t, sizeAfterTruncate, ol.Size(), "counter must reset after a successful truncate")
}

func TestMaybeSnapshotDoesNotFireBeforeThreshold(t *testing.T) {
	r, ol, _ := newTestReplicator(t, "A", 10, 1)
	entry := wire.OpLogEntry{ID: "op-4", Op: wire.OpPrestar, Code: "ISBN-0001", UserID: "u-1", SourceNode: "B"}
	r.applyInbound(entry)
	sizeBefore := ol.Size()

	for i := 0; i < 5; i++ {
		r.maybeSnapshot()
	}

	assert.Equal(t, sizeBefore, ol.Size())
}
