package acquire

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/jobs"
	"github.com/rtxnet/rtxd/src/nodestore"
	"github.com/rtxnet/rtxd/src/wire"
)

// Registry owns the live acquirers and routes incoming data messages to them
// by fingerprint. It implements the overlay's DataSink.
type Registry struct {
	network Network
	queue   jobs.Adder
	store   nodestore.Store
	logger  *logrus.Entry

	mu      sync.Mutex
	ledgers map[wire.Fingerprint]*InboundLedger
	txSets  map[wire.Fingerprint]*TxSetAcquirer
}

// NewRegistry creates an empty Registry.
func NewRegistry(network Network, queue jobs.Adder, store nodestore.Store, logger *logrus.Entry) *Registry {
	return &Registry{
		network: network,
		queue:   queue,
		store:   store,
		logger:  logger,
		ledgers: make(map[wire.Fingerprint]*InboundLedger),
		txSets:  make(map[wire.Fingerprint]*TxSetAcquirer),
	}
}

// AcquireLedger returns the acquirer for a fingerprint, creating it when the
// artifact is first found missing. An artifact already in the store yields no
// acquirer and a nil result.
func (r *Registry) AcquireLedger(fp wire.Fingerprint, peerIDs ...uint32) (*InboundLedger, error) {
	if r.store.Has(fp) {
		return nil, nil
	}

	r.mu.Lock()
	il, ok := r.ledgers[fp]
	r.mu.Unlock()

	if !ok {
		var err error
		il, err = NewInboundLedger(fp, r.network, r.queue, r.store, r.logger)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if existing, race := r.ledgers[fp]; race {
			r.mu.Unlock()
			il.Stop()
			il = existing
		} else {
			r.ledgers[fp] = il
			r.mu.Unlock()
		}
	}

	for _, id := range peerIDs {
		il.PeerHas(id)
	}
	return il, nil
}

// AcquireTxSet returns the acquirer for a transaction set fingerprint,
// creating it on first miss.
func (r *Registry) AcquireTxSet(fp wire.Fingerprint, peerIDs ...uint32) (*TxSetAcquirer, error) {
	if r.store.Has(fp) {
		return nil, nil
	}

	r.mu.Lock()
	ta, ok := r.txSets[fp]
	r.mu.Unlock()

	if !ok {
		var err error
		ta, err = NewTxSetAcquirer(fp, r.network, r.queue, r.store, r.logger)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if existing, race := r.txSets[fp]; race {
			r.mu.Unlock()
			ta.Stop()
			ta = existing
		} else {
			r.txSets[fp] = ta
			r.mu.Unlock()
		}
	}

	for _, id := range peerIDs {
		ta.PeerHas(id)
	}
	return ta, nil
}

// OnLedgerData implements overlay.DataSink. Data for an unknown fingerprint
// is dropped.
func (r *Registry) OnLedgerData(from uint32, msg wire.LedgerData) {
	r.mu.Lock()
	il := r.ledgers[msg.LedgerHash]
	r.mu.Unlock()

	if il == nil {
		r.logger.WithField("hash", msg.LedgerHash.String()).Debug("Ledger data for unknown acquisition")
		return
	}

	il.OnData(from, msg)
	r.reapLedger(il)
}

// OnTxSetData implements overlay.DataSink.
func (r *Registry) OnTxSetData(from uint32, msg wire.TxSetData) {
	r.mu.Lock()
	ta := r.txSets[msg.SetHash]
	r.mu.Unlock()

	if ta == nil {
		r.logger.WithField("hash", msg.SetHash.String()).Debug("Tx set data for unknown acquisition")
		return
	}

	ta.OnData(from, msg)
	r.reapTxSet(ta)
}

func (r *Registry) reapLedger(il *InboundLedger) {
	if il.IsActive() {
		return
	}
	r.mu.Lock()
	if r.ledgers[il.Hash()] == il {
		delete(r.ledgers, il.Hash())
	}
	r.mu.Unlock()
}

func (r *Registry) reapTxSet(ta *TxSetAcquirer) {
	if ta.IsActive() {
		return
	}
	r.mu.Lock()
	if r.txSets[ta.Hash()] == ta {
		delete(r.txSets, ta.Hash())
	}
	r.mu.Unlock()
}

// ActiveLedgers returns the fingerprints of in-flight ledger acquisitions.
func (r *Registry) ActiveLedgers() []wire.Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()

	fps := make([]wire.Fingerprint, 0, len(r.ledgers))
	for fp := range r.ledgers {
		fps = append(fps, fp)
	}
	return fps
}

// Stop disarms every live acquirer.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, il := range r.ledgers {
		il.Stop()
	}
	for _, ta := range r.txSets {
		ta.Stop()
	}
}
