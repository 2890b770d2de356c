package acquire

import (
	"sync"
	"testing"
	"time"

	"github.com/rtxnet/rtxd/src/common"
	"github.com/rtxnet/rtxd/src/jobs"
	"github.com/rtxnet/rtxd/src/wire"
)

// stubNetwork records sends and serves a configurable set of known peers.
type stubNetwork struct {
	mu    sync.Mutex
	known map[uint32]bool
	sends []stubSend
}

type stubSend struct {
	id uint32
	t  wire.Type
}

func newStubNetwork(known ...uint32) *stubNetwork {
	n := &stubNetwork{known: make(map[uint32]bool)}
	for _, id := range known {
		n.known[id] = true
	}
	return n
}

func (n *stubNetwork) HasPeer(id uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.known[id]
}

func (n *stubNetwork) SendTo(id uint32, t wire.Type, body interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.known[id] {
		return false
	}
	n.sends = append(n.sends, stubSend{id: id, t: t})
	return true
}

func (n *stubNetwork) sendCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

func (n *stubNetwork) sendAt(i int) stubSend {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends[i]
}

// stubQueue runs accepted jobs inline and reports a settable job count.
type stubQueue struct {
	mu     sync.Mutex
	counts map[jobs.Kind]int
}

func newStubQueue() *stubQueue {
	return &stubQueue{counts: make(map[jobs.Kind]int)}
}

func (q *stubQueue) AddLimitJob(kind jobs.Kind, name string, limit int, fn func()) bool {
	fn()
	return true
}

func (q *stubQueue) JobCountTotal(kind jobs.Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[kind]
}

func (q *stubQueue) setCount(kind jobs.Kind, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[kind] = n
}

// recordingHooks counts hook invocations.
type recordingHooks struct {
	mu       sync.Mutex
	newPeers []uint32
	ticks    []bool
}

func (h *recordingHooks) NewPeer(id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.newPeers = append(h.newPeers, id)
}

func (h *recordingHooks) OnTimer(progress bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, progress)
}

func (h *recordingHooks) newPeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.newPeers)
}

func (h *recordingHooks) tickSnapshot() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.ticks...)
}

func testPeerSet(t *testing.T, interval time.Duration, txnData bool,
	network Network, queue jobs.Adder) (*PeerSet, *recordingHooks) {

	t.Helper()

	ps, err := NewPeerSet(wire.FingerprintOf([]byte("artifact")), interval,
		txnData, network, queue, common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	hooks := &recordingHooks{}
	ps.SetHooks(hooks)
	return ps, hooks
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPeerSetIntervalBounds(t *testing.T) {
	network := newStubNetwork()
	queue := newStubQueue()
	logger := common.NewTestEntry(t)
	hash := wire.FingerprintOf([]byte("x"))

	if _, err := NewPeerSet(hash, 5*time.Millisecond, false, network, queue, logger); err != ErrBadInterval {
		t.Fatalf("expected ErrBadInterval for 5ms, got %v", err)
	}
	if _, err := NewPeerSet(hash, 10*time.Millisecond, false, network, queue, logger); err != ErrBadInterval {
		t.Fatalf("expected ErrBadInterval for 10ms, got %v", err)
	}
	if _, err := NewPeerSet(hash, 30000*time.Millisecond, false, network, queue, logger); err != ErrBadInterval {
		t.Fatalf("expected ErrBadInterval for 30000ms, got %v", err)
	}
	if _, err := NewPeerSet(hash, 1000*time.Millisecond, false, network, queue, logger); err != nil {
		t.Fatalf("unexpected error for 1000ms: %v", err)
	}
}

func TestPeerSetPeerHasIdempotent(t *testing.T) {
	ps, hooks := testPeerSet(t, time.Second, false, newStubNetwork(7), newStubQueue())

	ps.PeerHas(7)
	ps.PeerHas(7)

	if hooks.newPeerCount() != 1 {
		t.Fatalf("NewPeer fired %d times, want 1", hooks.newPeerCount())
	}
	if ps.PeerCount() != 1 {
		t.Fatalf("peer count %d, want 1", ps.PeerCount())
	}
}

func TestPeerSetBadPeerRoundTrip(t *testing.T) {
	ps, hooks := testPeerSet(t, time.Second, false, newStubNetwork(7), newStubQueue())

	ps.PeerHas(7)
	ps.BadPeer(7)
	ps.PeerHas(7)

	// Observable state matches a single PeerHas.
	if ps.PeerCount() != 1 {
		t.Fatalf("peer count %d, want 1", ps.PeerCount())
	}
	if hooks.newPeerCount() != 2 {
		t.Fatalf("NewPeer fired %d times, want 2 (once per first admission)", hooks.newPeerCount())
	}
}

func TestPeerSetSendRequestEmptyNoop(t *testing.T) {
	network := newStubNetwork(1, 2)
	ps, _ := testPeerSet(t, time.Second, false, network, newStubQueue())

	ps.SendRequest(wire.TypeGetLedger, wire.GetLedger{})

	if network.sendCount() != 0 {
		t.Fatal("expected no sends from an empty peer set")
	}
}

func TestPeerSetSendRequestBroadcast(t *testing.T) {
	network := newStubNetwork(1, 2)
	ps, _ := testPeerSet(t, time.Second, false, network, newStubQueue())

	ps.PeerHas(1)
	ps.PeerHas(2)
	ps.PeerHas(3) // unknown to the overlay; SendTo will refuse it

	ps.SendRequest(wire.TypeGetLedger, wire.GetLedger{})

	if network.sendCount() != 2 {
		t.Fatalf("expected 2 sends, got %d", network.sendCount())
	}
}

func TestPeerSetTakePeerSetFrom(t *testing.T) {
	network := newStubNetwork(1, 2)

	other, _ := testPeerSet(t, time.Second, false, network, newStubQueue())
	other.PeerHas(1)
	other.PeerHas(2)
	other.PeerHas(3)

	ps, _ := testPeerSet(t, time.Second, false, network, newStubQueue())
	ps.PeerHas(9)

	if n := ps.TakePeerSetFrom(other); n != 3 {
		t.Fatalf("TakePeerSetFrom returned %d, want 3", n)
	}

	// Only the peers the overlay still knows are counted.
	if ps.PeerCount() != 2 {
		t.Fatalf("peer count %d, want 2", ps.PeerCount())
	}
}

func TestPeerSetTimerProgress(t *testing.T) {
	network := newStubNetwork(1, 2)
	queue := newStubQueue()
	ps, hooks := testPeerSet(t, 20*time.Millisecond, false, network, queue)
	defer ps.Stop()

	ps.PeerHas(1)
	ps.PeerHas(2)
	ps.Start()

	// The set starts with progress set, so the first tick reports progress
	// and consumes it; the next tick reports a timeout.
	waitFor(t, "a timeout tick", func() bool { return ps.Timeouts() >= 1 })

	ticks := hooks.tickSnapshot()
	if len(ticks) == 0 || !ticks[0] {
		t.Fatalf("first tick should report progress, got %v", ticks)
	}

	// Fresh data resets the pattern.
	ps.SetProgress()
	before := ps.Timeouts()
	waitFor(t, "a progress tick after SetProgress", func() bool {
		for _, p := range hooks.tickSnapshot()[len(ticks):] {
			if p {
				return true
			}
		}
		return false
	})

	if ps.Timeouts() < before {
		t.Fatal("timeouts must be monotonically non-decreasing")
	}
}

func TestPeerSetLedgerDataDeferral(t *testing.T) {
	network := newStubNetwork(1)
	queue := newStubQueue()
	queue.setCount(jobs.KindLedgerData, ledgerDataJobCeiling+1)

	ps, hooks := testPeerSet(t, 20*time.Millisecond, false, network, queue)
	defer ps.Stop()
	ps.Start()

	time.Sleep(100 * time.Millisecond)
	if len(hooks.tickSnapshot()) != 0 {
		t.Fatal("ticks should be deferred while the queue is loaded")
	}

	queue.setCount(jobs.KindLedgerData, 0)
	waitFor(t, "a tick after load clears", func() bool { return len(hooks.tickSnapshot()) > 0 })
}

func TestPeerSetTxnDataNotDeferred(t *testing.T) {
	network := newStubNetwork(1)
	queue := newStubQueue()
	queue.setCount(jobs.KindLedgerData, 100)

	ps, hooks := testPeerSet(t, 20*time.Millisecond, true, network, queue)
	defer ps.Stop()
	ps.Start()

	waitFor(t, "a txn-data tick under ledger load", func() bool { return len(hooks.tickSnapshot()) > 0 })
}

func TestPeerSetCompleteFailedExclusive(t *testing.T) {
	ps, _ := testPeerSet(t, time.Second, false, newStubNetwork(), newStubQueue())

	ps.MarkComplete()
	ps.MarkFailed()

	if !ps.IsComplete() || ps.IsFailed() {
		t.Fatal("complete set must never become failed")
	}
	if ps.IsActive() {
		t.Fatal("a done set is not active")
	}

	ps2, _ := testPeerSet(t, time.Second, false, newStubNetwork(), newStubQueue())
	ps2.MarkFailed()
	ps2.MarkComplete()

	if ps2.IsComplete() || !ps2.IsFailed() {
		t.Fatal("failed set must never become complete")
	}
}

func TestPeerSetDoneNeverReArms(t *testing.T) {
	network := newStubNetwork(1)
	queue := newStubQueue()
	ps, hooks := testPeerSet(t, 20*time.Millisecond, false, network, queue)

	ps.Start()
	ps.MarkComplete()

	time.Sleep(100 * time.Millisecond)
	if n := len(hooks.tickSnapshot()); n != 0 {
		t.Fatalf("completed set ticked %d times", n)
	}
}
