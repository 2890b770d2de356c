package acquire

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/jobs"
	"github.com/rtxnet/rtxd/src/wire"
)

// Network is the slice of the overlay a PeerSet needs: peer liveness and
// fire-and-forget sends. Peers are referred to by id only; ids are resolved
// against the overlay on use, never owned.
type Network interface {
	HasPeer(id uint32) bool
	SendTo(id uint32, t wire.Type, body interface{}) bool
}

// Hooks is the injected strategy that gives a PeerSet its variant behavior.
//
// Both hooks are invoked with the PeerSet's lock held: they may use the
// *Locked methods of the PeerSet freely, must not call its locking methods,
// and must not block on I/O. Sends are fire-and-forget and are fine.
type Hooks interface {
	// NewPeer fires exactly once per peer admission.
	NewPeer(id uint32)

	// OnTimer fires on every tick that finds the set alive. progress is true
	// when data arrived since the previous tick.
	OnTimer(progress bool)
}

// ErrBadInterval rejects a timer interval outside the open range
// (10ms, 30000ms).
var ErrBadInterval = errors.New("acquire: timer interval out of range")

const (
	minTimerInterval = 10 * time.Millisecond
	maxTimerInterval = 30000 * time.Millisecond

	// ledgerDataJobCeiling is the job-count threshold above which a
	// ledger-data tick is deferred instead of dispatched.
	ledgerDataJobCeiling = 4

	// timerJobLimit caps concurrent timer jobs per kind in the queue.
	timerJobLimit = 2
)

// PeerSet maintains, for a single content fingerprint, the set of peers
// believed to have the artifact, and a periodic timer driving retries and
// escalation when no progress is observed.
type PeerSet struct {
	hash     wire.Fingerprint
	interval time.Duration
	txnData  bool

	network Network
	queue   jobs.Adder
	logger  *logrus.Entry

	mu       sync.Mutex
	hooks    Hooks
	peers    map[uint32]int
	timeouts int
	progress bool
	complete bool
	failed   bool
	timer    *time.Timer
	stopped  bool
}

// NewPeerSet validates the interval and builds a PeerSet. The timer is not
// armed until Start.
func NewPeerSet(hash wire.Fingerprint, interval time.Duration, txnData bool,
	network Network, queue jobs.Adder, logger *logrus.Entry) (*PeerSet, error) {

	if interval <= minTimerInterval || interval >= maxTimerInterval {
		return nil, ErrBadInterval
	}

	return &PeerSet{
		hash:     hash,
		interval: interval,
		txnData:  txnData,
		network:  network,
		queue:    queue,
		logger:   logger.WithField("hash", hash.String()),
		peers:    make(map[uint32]int),
		progress: true,
	}, nil
}

// SetHooks installs the strategy. It must be called before Start.
func (ps *PeerSet) SetHooks(h Hooks) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.hooks = h
}

// Start arms the first timer.
func (ps *PeerSet) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stopped || ps.isDoneLocked() || ps.timer != nil {
		return
	}
	ps.setTimerLocked()
}

// Stop disarms the timer and prevents any further ticks. It does not touch
// the complete/failed flags.
func (ps *PeerSet) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.stopped = true
	ps.cancelTimerLocked()
}

// Hash returns the fingerprint this set is acquiring.
func (ps *PeerSet) Hash() wire.Fingerprint {
	return ps.hash
}

// PeerHas admits a peer to the set. Idempotent: a second call for the same id
// is a no-op. The NewPeer hook fires exactly when the peer is first added.
func (ps *PeerSet) PeerHas(id uint32) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.peers[id]; ok {
		return
	}
	ps.peers[id] = 0

	if ps.hooks != nil {
		ps.hooks.NewPeer(id)
	}
}

// BadPeer removes a peer from the set.
func (ps *PeerSet) BadPeer(id uint32) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.peers, id)
}

// SendRequest broadcasts a request to all current peers. With no peers it is
// a no-op.
func (ps *PeerSet) SendRequest(t wire.Type, body interface{}) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.SendRequestLocked(t, body)
}

// SendRequestTo unicasts a request to one peer; id 0 means no particular
// peer and falls back to broadcast.
func (ps *PeerSet) SendRequestTo(t wire.Type, body interface{}, id uint32) {
	if id == 0 {
		ps.SendRequest(t, body)
		return
	}
	ps.network.SendTo(id, t, body)
}

// SendRequestLocked is SendRequest for use from hooks, which already hold the
// lock.
func (ps *PeerSet) SendRequestLocked(t wire.Type, body interface{}) {
	if len(ps.peers) == 0 {
		return
	}
	for id := range ps.peers {
		ps.network.SendTo(id, t, body)
	}
}

// TakePeerSetFrom replaces the current peer set with a copy of another
// PeerSet's peers, counters reset. It returns the new size.
func (ps *PeerSet) TakePeerSetFrom(other *PeerSet) int {
	if other == ps {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		for id := range ps.peers {
			ps.peers[id] = 0
		}
		return len(ps.peers)
	}

	ids := other.peerIDs()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.peers = make(map[uint32]int, len(ids))
	for _, id := range ids {
		ps.peers[id] = 0
	}
	return len(ps.peers)
}

func (ps *PeerSet) peerIDs() []uint32 {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ids := make([]uint32, 0, len(ps.peers))
	for id := range ps.peers {
		ids = append(ids, id)
	}
	return ids
}

// PeerCount counts the peers in the set that are still known to the overlay.
func (ps *PeerSet) PeerCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	n := 0
	for id := range ps.peers {
		if ps.network.HasPeer(id) {
			n++
		}
	}
	return n
}

// SetProgress records that data arrived since the last tick. Called by the
// routing layer on every data packet for this fingerprint.
func (ps *PeerSet) SetProgress() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.progress = true
}

// IsActive reports whether the set is neither complete nor failed.
func (ps *PeerSet) IsActive() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return !ps.isDoneLocked()
}

// IsComplete reports whether the artifact was fully acquired.
func (ps *PeerSet) IsComplete() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.complete
}

// IsFailed reports whether the acquisition was abandoned.
func (ps *PeerSet) IsFailed() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.failed
}

// Timeouts returns the number of ticks that observed no progress.
func (ps *PeerSet) Timeouts() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.timeouts
}

// TimeoutsLocked is Timeouts for use from hooks.
func (ps *PeerSet) TimeoutsLocked() int {
	return ps.timeouts
}

// MarkCompleteLocked declares the acquisition complete. A set that already
// failed stays failed.
func (ps *PeerSet) MarkCompleteLocked() {
	if ps.failed {
		return
	}
	ps.complete = true
	ps.cancelTimerLocked()
}

// MarkFailedLocked abandons the acquisition. A set that already completed
// stays complete.
func (ps *PeerSet) MarkFailedLocked() {
	if ps.complete {
		return
	}
	ps.failed = true
	ps.cancelTimerLocked()
}

// MarkComplete is MarkCompleteLocked for callers outside a hook.
func (ps *PeerSet) MarkComplete() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.MarkCompleteLocked()
}

// MarkFailed is MarkFailedLocked for callers outside a hook.
func (ps *PeerSet) MarkFailed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.MarkFailedLocked()
}

func (ps *PeerSet) isDoneLocked() bool {
	return ps.complete || ps.failed
}

//------------------------------------------------------------------------------

func (ps *PeerSet) setTimerLocked() {
	if ps.timer != nil {
		ps.timer.Stop()
	}
	ps.timer = time.AfterFunc(ps.interval, ps.timerEntry)
}

func (ps *PeerSet) cancelTimerLocked() {
	if ps.timer != nil {
		ps.timer.Stop()
		ps.timer = nil
	}
}

// timerEntry dispatches a tick through the job queue. Ledger-data ticks are
// deferred under load; transaction-data ticks are not.
func (ps *PeerSet) timerEntry() {
	ps.mu.Lock()
	if ps.stopped || ps.isDoneLocked() {
		ps.mu.Unlock()
		return
	}
	ps.mu.Unlock()

	if ps.txnData {
		if !ps.queue.AddLimitJob(jobs.KindTxnData, "timerEntry", timerJobLimit, ps.invokeOnTimer) {
			ps.rearm()
		}
		return
	}

	if ps.queue.JobCountTotal(jobs.KindLedgerData) > ledgerDataJobCeiling {
		ps.logger.Debug("Deferring timer due to load")
		ps.rearm()
		return
	}

	if !ps.queue.AddLimitJob(jobs.KindLedgerData, "timerEntry", timerJobLimit, ps.invokeOnTimer) {
		ps.rearm()
	}
}

func (ps *PeerSet) rearm() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stopped || ps.isDoneLocked() {
		return
	}
	ps.setTimerLocked()
}

// invokeOnTimer is the tick body, run as a job.
func (ps *PeerSet) invokeOnTimer() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.stopped || ps.isDoneLocked() {
		return
	}

	if !ps.progress {
		ps.timeouts++
		ps.logger.WithFields(logrus.Fields{
			"timeouts": ps.timeouts,
			"peers":    len(ps.peers),
		}).Warn("Timeout acquiring")
		if ps.hooks != nil {
			ps.hooks.OnTimer(false)
		}
	} else {
		ps.progress = false
		if ps.hooks != nil {
			ps.hooks.OnTimer(true)
		}
	}

	if !ps.stopped && !ps.isDoneLocked() {
		ps.setTimerLocked()
	}
}
