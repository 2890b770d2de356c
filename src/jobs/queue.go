package jobs

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind partitions jobs so that per-kind counts and limits can be applied.
type Kind int

const (
	KindGeneric Kind = iota
	KindLedgerData
	KindTxnData
)

func (k Kind) String() string {
	switch k {
	case KindLedgerData:
		return "ledger-data"
	case KindTxnData:
		return "txn-data"
	}
	return "generic"
}

// Adder is the narrow surface consumed by components that dispatch work. It
// lets tests substitute a stub for the real queue.
type Adder interface {
	// AddLimitJob enqueues fn unless the number of queued plus running jobs
	// of the same kind is at or above limit. It reports whether the job was
	// accepted.
	AddLimitJob(kind Kind, name string, limit int, fn func()) bool

	// JobCountTotal returns the number of queued plus running jobs of a kind.
	JobCountTotal(kind Kind) int
}

type job struct {
	kind Kind
	name string
	fn   func()
}

// Queue is a typed, capacity-bounded work queue backed by a fixed pool of
// worker goroutines. Jobs of the same kind run in FIFO dispatch order.
type Queue struct {
	mu       sync.Mutex
	counts   map[Kind]int
	jobCh    chan job
	shutdown bool
	wg       sync.WaitGroup
	logger   *logrus.Entry
}

const jobBacklog = 1024

// NewQueue creates a Queue with the given number of workers and starts them.
func NewQueue(workers int, logger *logrus.Entry) *Queue {
	if workers < 1 {
		workers = 1
	}

	q := &Queue{
		counts: make(map[Kind]int),
		jobCh:  make(chan job, jobBacklog),
		logger: logger,
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}

	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobCh {
		j.fn()

		q.mu.Lock()
		q.counts[j.kind]--
		q.mu.Unlock()
	}
}

// AddJob enqueues fn unconditionally. It reports whether the job was accepted;
// a job is refused when the queue is stopped or the backlog is full.
func (q *Queue) AddJob(kind Kind, name string, fn func()) bool {
	return q.add(kind, name, -1, fn)
}

// AddLimitJob implements Adder.
func (q *Queue) AddLimitJob(kind Kind, name string, limit int, fn func()) bool {
	return q.add(kind, name, limit, fn)
}

func (q *Queue) add(kind Kind, name string, limit int, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return false
	}

	if limit >= 0 && q.counts[kind] >= limit {
		q.logger.WithFields(logrus.Fields{
			"kind": kind.String(),
			"name": name,
		}).Debug("Job over limit, dropped")
		return false
	}

	select {
	case q.jobCh <- job{kind: kind, name: name, fn: fn}:
		q.counts[kind]++
		return true
	default:
		q.logger.WithFields(logrus.Fields{
			"kind": kind.String(),
			"name": name,
		}).Warn("Job backlog full, dropped")
		return false
	}
}

// JobCountTotal implements Adder.
func (q *Queue) JobCountTotal(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[kind]
}

// Stop refuses new jobs, drains the backlog, and joins the workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	q.mu.Unlock()

	close(q.jobCh)
	q.wg.Wait()
}
