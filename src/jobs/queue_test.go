package jobs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rtxnet/rtxd/src/common"
)

func testQueue(t *testing.T, workers int) *Queue {
	return NewQueue(workers, common.NewTestEntry(t))
}

func TestQueueRunsJobs(t *testing.T) {
	q := testQueue(t, 2)
	defer q.Stop()

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := q.AddJob(KindGeneric, "inc", func() {
			atomic.AddInt32(&ran, 1)
			wg.Done()
		})
		if !ok {
			t.Fatal("job refused")
		}
	}
	wg.Wait()

	if ran != 10 {
		t.Fatalf("expected 10 jobs run, got %d", ran)
	}
}

func TestQueueLimit(t *testing.T) {
	q := testQueue(t, 1)
	defer q.Stop()

	block := make(chan struct{})

	// Occupy the single worker.
	if !q.AddLimitJob(KindLedgerData, "blocker", 10, func() { <-block }) {
		t.Fatal("first job refused")
	}

	// Wait until the blocker is counted (queued or running).
	deadline := time.Now().Add(2 * time.Second)
	for q.JobCountTotal(KindLedgerData) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("blocker never counted")
		}
		time.Sleep(time.Millisecond)
	}

	// One more fits under a limit of 2; a third must be dropped.
	if !q.AddLimitJob(KindLedgerData, "second", 2, func() {}) {
		t.Fatal("second job refused")
	}
	if q.AddLimitJob(KindLedgerData, "third", 2, func() {}) {
		t.Fatal("third job should have been dropped")
	}

	// Other kinds are unaffected.
	if q.JobCountTotal(KindTxnData) != 0 {
		t.Fatal("unexpected txn-data count")
	}

	close(block)
}

func TestQueueStopRefusesJobs(t *testing.T) {
	q := testQueue(t, 1)
	q.Stop()

	if q.AddJob(KindGeneric, "late", func() {}) {
		t.Fatal("stopped queue accepted a job")
	}

	// Stop again is a no-op.
	q.Stop()
}
