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
	// inboundLedgerInterval is the tick period while acquiring a ledger.
	inboundLedgerInterval = 250 * time.Millisecond

	// inboundLedgerMaxTimeouts is the number of no-progress ticks after
	// which the acquisition is abandoned. The count runs over the whole
	// acquisition; progress does not reset it.
	inboundLedgerMaxTimeouts = 8
)

// InboundLedger acquires one ledger, identified by fingerprint, from the
// network. The ledger arrives in three parts: the base (header), the
// transaction nodes, and the state nodes. Once all three are held, the
// assembled artifact is written to the node store and the set completes.
type InboundLedger struct {
	*PeerSet

	store  nodestore.Store
	logger *logrus.Entry

	// guarded by the PeerSet lock
	base       []byte
	txNodes    [][]byte
	stateNodes [][]byte
	haveBase   bool
	haveTx     bool
	haveState  bool
}

// ledgerArtifact is the stored form of a fully acquired ledger.
type ledgerArtifact struct {
	Base       []byte   `json:"base"`
	TxNodes    [][]byte `json:"tx_nodes"`
	StateNodes [][]byte `json:"state_nodes"`
}

// NewInboundLedger builds the acquirer and arms its timer.
func NewInboundLedger(hash wire.Fingerprint, network Network, queue jobs.Adder,
	store nodestore.Store, logger *logrus.Entry) (*InboundLedger, error) {

	ps, err := NewPeerSet(hash, inboundLedgerInterval, false, network, queue, logger)
	if err != nil {
		return nil, err
	}

	il := &InboundLedger{
		PeerSet: ps,
		store:   store,
		logger:  logger.WithField("ledger", hash.String()),
	}
	ps.SetHooks(il)
	ps.Start()

	return il, nil
}

// NewPeer implements Hooks: solicit the current stage from the newly admitted
// peer right away.
func (il *InboundLedger) NewPeer(id uint32) {
	il.network.SendTo(id, wire.TypeGetLedger, il.currentRequestLocked())
}

// OnTimer implements Hooks.
func (il *InboundLedger) OnTimer(progress bool) {
	if !progress && il.TimeoutsLocked() >= inboundLedgerMaxTimeouts {
		il.logger.WithField("timeouts", il.TimeoutsLocked()).Warn("Abandoning ledger")
		il.MarkFailedLocked()
		metrics.AcquisitionsFailed.Inc()
		return
	}

	il.SendRequestLocked(wire.TypeGetLedger, il.currentRequestLocked())
}

// currentRequestLocked builds the GetLedger for the first stage still
// missing. Callers hold the PeerSet lock.
func (il *InboundLedger) currentRequestLocked() wire.GetLedger {
	req := wire.GetLedger{
		LedgerHash: il.hash,
		QueryDepth: 1,
	}
	switch {
	case !il.haveBase:
		req.ItemType = wire.ItemBase
	case !il.haveTx:
		req.ItemType = wire.ItemTxNode
	default:
		req.ItemType = wire.ItemStateNode
	}
	return req
}

// OnData feeds a ledger-data message into the acquirer. It admits the sending
// peer, marks progress, and advances the stage the data satisfies.
func (il *InboundLedger) OnData(from uint32, msg wire.LedgerData) {
	il.PeerHas(from)

	il.mu.Lock()
	defer il.mu.Unlock()

	if il.isDoneLocked() || len(msg.Nodes) == 0 {
		return
	}

	il.progress = true
	il.peers[from]++

	switch msg.ItemType {
	case wire.ItemBase:
		if !il.haveBase {
			il.base = msg.Nodes[0]
			il.haveBase = true
		}
	case wire.ItemTxNode:
		if il.haveBase && !il.haveTx {
			il.txNodes = append(il.txNodes, msg.Nodes...)
			il.haveTx = true
		}
	case wire.ItemStateNode:
		if il.haveTx && !il.haveState {
			il.stateNodes = append(il.stateNodes, msg.Nodes...)
			il.haveState = true
		}
	}

	if il.haveBase && il.haveTx && il.haveState {
		il.finishLocked()
	}
}

func (il *InboundLedger) finishLocked() {
	artifact, err := wire.EncodeBody(ledgerArtifact{
		Base:       il.base,
		TxNodes:    il.txNodes,
		StateNodes: il.stateNodes,
	})
	if err != nil {
		il.logger.WithError(err).Error("Encoding ledger artifact")
		il.MarkFailedLocked()
		metrics.AcquisitionsFailed.Inc()
		return
	}

	if err := il.store.Put(il.hash, artifact); err != nil {
		il.logger.WithError(err).Error("Storing ledger artifact")
		il.MarkFailedLocked()
		metrics.AcquisitionsFailed.Inc()
		return
	}

	il.logger.Info("Ledger acquired")
	il.MarkCompleteLocked()
	metrics.AcquisitionsCompleted.Inc()
}
