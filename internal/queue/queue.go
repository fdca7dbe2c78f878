// Package queue implements the converter daemon's job queue: a bounded,
// dedup-by-key FIFO drained by a single worker goroutine, so that two
// requests to sync the same (receiver, catalog, parser) triple never
// run concurrently.
//
// Grounded on original_source/converter/daemon.py's ConverterDaemon.
package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Open-Inflation/converter/internal/syncengine"
)

// Job is one queued sync request.
type Job struct {
	ReceiverDSN string
	CatalogDSN  string
	ParserName  string
	BatchSize   int
	MaxBatches  int
	RunID       string
	Source      string
}

type dedupeKey struct {
	receiverDSN string
	catalogDSN  string
	parserName  string
}

// Key returns the (receiver, catalog, parser) triple two jobs collide
// on, matching original_source's QueueJob.dedupe_key.
func (j Job) key() dedupeKey {
	parser := strings.ToLower(strings.TrimSpace(j.ParserName))
	if parser == "" {
		parser = "fixprice"
	}
	return dedupeKey{
		receiverDSN: strings.TrimSpace(j.ReceiverDSN),
		catalogDSN:  strings.TrimSpace(j.CatalogDSN),
		parserName:  parser,
	}
}

func (j Job) toSyncJob() syncengine.Job {
	return syncengine.Job{
		ReceiverDSN: j.ReceiverDSN,
		CatalogDSN:  j.CatalogDSN,
		ParserName:  j.ParserName,
		BatchSize:   j.BatchSize,
		MaxBatches:  j.MaxBatches,
	}
}

// EnqueueResult reports what happened to a submitted job.
type EnqueueResult struct {
	Accepted  bool
	Duplicate bool
	Reason    string
	QueueSize int
}

// Snapshot is the daemon's current state, served at /health and
// /queue.
type Snapshot struct {
	Running         bool
	QueueSize       int
	ActiveJobs      int
	PendingJobs     int
	TotalEnqueued   int
	TotalDuplicates int
	TotalProcessed  int
	TotalFailed     int
}

// Queue owns the bounded job channel, the pending/active dedup sets,
// and the worker goroutine that drains it by calling engine.Run for
// each job.
type Queue struct {
	engine *syncengine.Engine

	mu          sync.Mutex
	pendingKeys map[dedupeKey]bool
	activeKeys  map[dedupeKey]bool
	running     bool

	totalEnqueued   int
	totalDuplicates int
	totalProcessed  int
	totalFailed     int

	jobs chan Job
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Queue bound to engine with room for maxQueueSize
// pending jobs (minimum 1).
func New(engine *syncengine.Engine, maxQueueSize int) *Queue {
	if maxQueueSize < 1 {
		maxQueueSize = 1
	}
	return &Queue{
		engine:      engine,
		pendingKeys: make(map[dedupeKey]bool),
		activeKeys:  make(map[dedupeKey]bool),
		jobs:        make(chan Job, maxQueueSize),
	}
}

// Start launches the worker goroutine if it is not already running.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.done = make(chan struct{})
	q.wg.Add(1)
	go q.workerLoop(q.done)
}

// Stop signals the worker to exit after its current job and waits up
// to timeout for it to do so.
func (q *Queue) Stop(timeout time.Duration) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	done := q.done
	q.running = false
	q.mu.Unlock()

	close(done)

	waitCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
	}
}

// Enqueue submits job, rejecting it as a duplicate if its dedupe key is
// already pending or in flight, and as queue_full if the buffered
// channel is saturated.
func (q *Queue) Enqueue(job Job) EnqueueResult {
	key := job.key()

	q.mu.Lock()
	if q.pendingKeys[key] || q.activeKeys[key] {
		q.totalDuplicates++
		size := len(q.jobs)
		q.mu.Unlock()
		return EnqueueResult{Accepted: false, Duplicate: true, Reason: "duplicate", QueueSize: size}
	}
	q.pendingKeys[key] = true
	q.mu.Unlock()

	select {
	case q.jobs <- job:
	default:
		q.mu.Lock()
		delete(q.pendingKeys, key)
		size := len(q.jobs)
		q.mu.Unlock()
		return EnqueueResult{Accepted: false, Duplicate: false, Reason: "queue_full", QueueSize: size}
	}

	q.mu.Lock()
	q.totalEnqueued++
	size := len(q.jobs)
	q.mu.Unlock()
	return EnqueueResult{Accepted: true, Duplicate: false, Reason: "accepted", QueueSize: size}
}

// Snapshot reports the queue's current counters.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Running:         q.running,
		QueueSize:       len(q.jobs),
		ActiveJobs:      len(q.activeKeys),
		PendingJobs:     len(q.pendingKeys),
		TotalEnqueued:   q.totalEnqueued,
		TotalDuplicates: q.totalDuplicates,
		TotalProcessed:  q.totalProcessed,
		TotalFailed:     q.totalFailed,
	}
}

func (q *Queue) workerLoop(done <-chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case <-done:
			return
		case job := <-q.jobs:
			q.runJob(job)
		}
	}
}

func (q *Queue) runJob(job Job) {
	key := job.key()
	q.mu.Lock()
	delete(q.pendingKeys, key)
	q.activeKeys[key] = true
	q.mu.Unlock()

	ctx := context.Background()
	outcome, err := q.engine.Run(ctx, job.toSyncJob(), nil)

	q.mu.Lock()
	delete(q.activeKeys, key)
	if err != nil {
		q.totalFailed++
	} else {
		q.totalProcessed++
	}
	q.mu.Unlock()

	if err != nil {
		slog.Error("queue job failed", "parser", job.ParserName, "run_id", job.RunID, "error", err)
		return
	}
	slog.Info("queue job done",
		"parser", job.ParserName, "run_id", job.RunID,
		"batches", outcome.Batches, "processed", outcome.TotalProcessed)
}
