package node

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/acquire"
	"github.com/rtxnet/rtxd/src/config"
	"github.com/rtxnet/rtxd/src/jobs"
	"github.com/rtxnet/rtxd/src/metrics"
	"github.com/rtxnet/rtxd/src/nodestore"
	"github.com/rtxnet/rtxd/src/overlay"
	"github.com/rtxnet/rtxd/src/wire"
)

// dialInterval is how often the dial loop revisits its endpoint list.
const dialInterval = 5 * time.Second

// Node wires the overlay, the acquisition registry, the job queue and the
// node store into a running process.
type Node struct {
	conf   *config.Config
	logger *logrus.Entry

	store    nodestore.Store
	queue    *jobs.Queue
	overlay  *overlay.Overlay
	registry *acquire.Registry

	mu        sync.Mutex
	endpoints []string
	attempts  map[*overlay.ConnectAttempt]bool
	state     string

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewNode assembles a Node from its configuration. The key must already be
// loaded into the config.
func NewNode(conf *config.Config) (*Node, error) {
	if conf.Key == nil {
		return nil, fmt.Errorf("node: no private key")
	}
	logger := conf.Logger()

	store, err := nodestore.Open(conf.StoreBackend, conf.DatabaseDir)
	if err != nil {
		return nil, err
	}

	listenPort := 0
	if _, portStr, err := net.SplitHostPort(conf.ListenAddr); err == nil {
		listenPort, _ = strconv.Atoi(portStr)
	}

	queue := jobs.NewQueue(conf.Workers, logger)

	ov := overlay.NewOverlay(overlay.Config{
		Key:              conf.Key,
		HTTPHandshake:    conf.HTTPHandshake,
		MaxOutbound:      conf.MaxOutbound,
		HandshakeTimeout: conf.HandshakeTimeout,
		ListenPort:       listenPort,
		Moniker:          conf.Moniker,
	}, logger)

	registry := acquire.NewRegistry(ov, queue, store, logger)
	ov.SetDataSink(registry)

	return &Node{
		conf:       conf,
		logger:     logger,
		store:      store,
		queue:      queue,
		overlay:    ov,
		registry:   registry,
		attempts:   make(map[*overlay.ConnectAttempt]bool),
		state:      "Starting",
		shutdownCh: make(chan struct{}),
	}, nil
}

// Overlay exposes the node's overlay.
func (n *Node) Overlay() *overlay.Overlay {
	return n.overlay
}

// Run starts the dial loop over the given endpoints and blocks until
// Shutdown. Redirect advisories picked up from busy peers extend the list.
func (n *Node) Run(endpoints []string) {
	n.mu.Lock()
	n.endpoints = append([]string(nil), endpoints...)
	n.state = "Running"
	n.mu.Unlock()

	n.wg.Add(1)
	go n.dialLoop()

	n.wg.Wait()
}

func (n *Node) dialLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(dialInterval)
	defer ticker.Stop()

	n.dialAll()
	for {
		select {
		case <-n.shutdownCh:
			return
		case <-ticker.C:
			n.mu.Lock()
			n.endpoints = mergeEndpoints(n.endpoints, n.overlay.Finder().TakeRedirects())
			n.mu.Unlock()

			n.dialAll()
			metrics.ActivePeers.Set(float64(n.overlay.PeerCount()))
		}
	}
}

func (n *Node) dialAll() {
	n.mu.Lock()
	endpoints := append([]string(nil), n.endpoints...)
	n.mu.Unlock()

	for _, ep := range endpoints {
		attempt, err := n.overlay.Connect(ep)
		if err != nil {
			// No slot: already connected or at capacity.
			continue
		}

		n.mu.Lock()
		n.attempts[attempt] = true
		n.mu.Unlock()

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			attempt.Run()
			metrics.ConnectAttempts.WithLabelValues(attempt.Outcome()).Inc()

			n.mu.Lock()
			delete(n.attempts, attempt)
			n.mu.Unlock()
		}()
	}
}

func mergeEndpoints(have, extra []string) []string {
	seen := make(map[string]bool, len(have))
	for _, ep := range have {
		seen[ep] = true
	}
	for _, ep := range extra {
		if !seen[ep] {
			seen[ep] = true
			have = append(have, ep)
		}
	}
	return have
}

// AcquireLedger starts (or joins) the acquisition of a ledger, seeding it
// with every live peer.
func (n *Node) AcquireLedger(fp wire.Fingerprint) (*acquire.InboundLedger, error) {
	ids := make([]uint32, 0)
	for _, p := range n.overlay.Peers() {
		ids = append(ids, p.ID())
	}

	il, err := n.registry.AcquireLedger(fp, ids...)
	if err == nil && il != nil {
		metrics.AcquisitionsStarted.Inc()
	}
	return il, err
}

// AcquireTxSet starts (or joins) the acquisition of a transaction set.
func (n *Node) AcquireTxSet(fp wire.Fingerprint) (*acquire.TxSetAcquirer, error) {
	ids := make([]uint32, 0)
	for _, p := range n.overlay.Peers() {
		ids = append(ids, p.ID())
	}

	ta, err := n.registry.AcquireTxSet(fp, ids...)
	if err == nil && ta != nil {
		metrics.AcquisitionsStarted.Inc()
	}
	return ta, err
}

// GetStats returns a coarse view of the node for the HTTP service.
func (n *Node) GetStats() map[string]string {
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()

	activeLedgers := n.registry.ActiveLedgers()

	return map[string]string{
		"state":               state,
		"moniker":             n.conf.Moniker,
		"num_peers":           strconv.Itoa(n.overlay.PeerCount()),
		"active_acquisitions": strconv.Itoa(len(activeLedgers)),
	}
}

// Shutdown stops the dial loop and tears the node down in dependency order.
func (n *Node) Shutdown() {
	n.mu.Lock()
	if n.state == "Shutdown" {
		n.mu.Unlock()
		return
	}
	n.state = "Shutdown"
	n.mu.Unlock()

	n.logger.Info("Shutdown")

	close(n.shutdownCh)

	n.mu.Lock()
	for attempt := range n.attempts {
		attempt.Stop()
	}
	n.mu.Unlock()

	n.overlay.Stop()
	n.wg.Wait()
	n.registry.Stop()
	n.queue.Stop()

	if err := n.store.Close(); err != nil {
		n.logger.WithError(err).Error("Closing store")
	}
}
