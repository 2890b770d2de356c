package acquire

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/jobs"
	"github.com/rtxnet/rtxd/src/metrics"
	"github.com/rtxnet/rtxd/src/nodestore"
	"github.com/rtxnet/rtxd/src/wire"
)

const (
	txSetInterval    = 150 * time.Millisecond
	txSetMaxTimeouts = 10
)

// TxSetAcquirer acquires one transaction set by fingerprint. Unlike ledger
// acquisition, its ticks are dispatched without consulting the ledger-data
// job threshold.
type TxSetAcquirer struct {
	*PeerSet

	store  nodestore.Store
	logger *logrus.Entry

	// guarded by the PeerSet lock
	nodes [][]byte
	have  bool
}

// NewTxSetAcquirer builds the acquirer and arms its timer.
func NewTxSetAcquirer(hash wire.Fingerprint, network Network, queue jobs.Adder,
	store nodestore.Store, logger *logrus.Entry) (*TxSetAcquirer, error) {

	ps, err := NewPeerSet(hash, txSetInterval, true, network, queue, logger)
	if err != nil {
		return nil, err
	}

	ta := &TxSetAcquirer{
		PeerSet: ps,
		store:   store,
		logger:  logger.WithField("txset", hash.String()),
	}
	ps.SetHooks(ta)
	ps.Start()

	return ta, nil
}

// NewPeer implements Hooks.
func (ta *TxSetAcquirer) NewPeer(id uint32) {
	ta.network.SendTo(id, wire.TypeGetTxSet, wire.GetTxSet{SetHash: ta.hash})
}

// OnTimer implements Hooks.
func (ta *TxSetAcquirer) OnTimer(progress bool) {
	if !progress && ta.TimeoutsLocked() >= txSetMaxTimeouts {
		ta.logger.WithField("timeouts", ta.TimeoutsLocked()).Warn("Abandoning tx set")
		ta.MarkFailedLocked()
		metrics.AcquisitionsFailed.Inc()
		return
	}

	ta.SendRequestLocked(wire.TypeGetTxSet, wire.GetTxSet{SetHash: ta.hash})
}

// OnData feeds a tx-set-data message into the acquirer.
func (ta *TxSetAcquirer) OnData(from uint32, msg wire.TxSetData) {
	ta.PeerHas(from)

	ta.mu.Lock()
	defer ta.mu.Unlock()

	if ta.isDoneLocked() || len(msg.Nodes) == 0 || ta.have {
		return
	}

	ta.progress = true
	ta.peers[from]++
	ta.nodes = msg.Nodes
	ta.have = true

	artifact, err := wire.EncodeBody(ta.nodes)
	if err != nil {
		ta.logger.WithError(err).Error("Encoding tx set")
		ta.MarkFailedLocked()
		metrics.AcquisitionsFailed.Inc()
		return
	}
	if err := ta.store.Put(ta.hash, artifact); err != nil {
		ta.logger.WithError(err).Error("Storing tx set")
		ta.MarkFailedLocked()
		metrics.AcquisitionsFailed.Inc()
		return
	}

	ta.logger.Info("Tx set acquired")
	ta.MarkCompleteLocked()
	metrics.AcquisitionsCompleted.Inc()
}
