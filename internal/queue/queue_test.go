package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Open-Inflation/converter/internal/parsers"
	"github.com/Open-Inflation/converter/internal/syncengine"
)

func newTestEngine() *syncengine.Engine {
	return syncengine.NewEngine(parsers.NewRegistry())
}

func TestEnqueue_DuplicateKeyRejectedWhilePending(t *testing.T) {
	q := New(newTestEngine(), 1)

	job := Job{ReceiverDSN: "receiver.db", CatalogDSN: "catalog.db", ParserName: "fixprice"}

	first := q.Enqueue(job)
	require.True(t, first.Accepted)

	second := q.Enqueue(job)
	require.False(t, second.Accepted)
	require.True(t, second.Duplicate)
	require.Equal(t, "duplicate", second.Reason)
}

func TestEnqueue_QueueFullRejectsBeyondCapacity(t *testing.T) {
	q := New(newTestEngine(), 1)

	first := q.Enqueue(Job{ReceiverDSN: "a.db", CatalogDSN: "cat.db", ParserName: "fixprice"})
	require.True(t, first.Accepted)

	second := q.Enqueue(Job{ReceiverDSN: "b.db", CatalogDSN: "cat.db", ParserName: "fixprice"})
	require.False(t, second.Accepted)
	require.Equal(t, "queue_full", second.Reason)
}

func TestJob_KeyDefaultsParserNameAndLowercases(t *testing.T) {
	a := Job{ReceiverDSN: " r.db ", CatalogDSN: "c.db", ParserName: ""}
	b := Job{ReceiverDSN: "r.db", CatalogDSN: "c.db", ParserName: "FixPrice"}
	require.Equal(t, a.key(), b.key())
}

func TestStartStop_WorkerDrainsInvalidJobWithoutPanicking(t *testing.T) {
	q := New(newTestEngine(), 4)
	q.Start()

	dir := t.TempDir()
	result := q.Enqueue(Job{
		ReceiverDSN: dir + "/receiver.db",
		CatalogDSN:  dir + "/catalog.db",
		ParserName:  "fixprice",
	})
	require.True(t, result.Accepted)

	require.Eventually(t, func() bool {
		snap := q.Snapshot()
		return snap.TotalFailed+snap.TotalProcessed == 1
	}, 2*time.Second, 10*time.Millisecond)

	q.Stop(time.Second)
}

func TestSnapshot_ReportsRunningState(t *testing.T) {
	q := New(newTestEngine(), 4)
	require.False(t, q.Snapshot().Running)

	q.Start()
	require.True(t, q.Snapshot().Running)

	q.Stop(time.Second)
	require.False(t, q.Snapshot().Running)
}
