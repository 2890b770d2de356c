package overlay

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/version"
	"github.com/rtxnet/rtxd/src/wire"
)

// Config carries the overlay's knobs.
type Config struct {
	// Key is the node's identity key, used to sign hellos.
	Key *ecdsa.PrivateKey

	// HTTPHandshake selects the HTTP-upgrade handshake; when false, outbound
	// attempts use the legacy framed hello exchange.
	HTTPHandshake bool

	// MaxOutbound caps concurrent outbound slots.
	MaxOutbound int

	// HandshakeTimeout guards each network operation of an attempt.
	HandshakeTimeout time.Duration

	// ListenPort is advertised in hellos.
	ListenPort int

	// Moniker is the friendly name advertised in hellos.
	Moniker string

	// ClusterKeys maps public keys (hex) to member names for nodes operated
	// as a cluster with this one.
	ClusterKeys map[string]string
}

// Overlay is the registry of live peer sessions. It hands out connect
// attempts, accepts the sessions they produce, and routes data and requests
// between peers and the rest of the node.
type Overlay struct {
	conf   Config
	finder *Finder
	logger *logrus.Entry

	mu     sync.Mutex
	peers  map[uint32]*Peer
	byKey  map[string]*Peer
	nextID uint32
	sink   DataSink
	closed bool
}

// NewOverlay creates an Overlay with its own Finder.
func NewOverlay(conf Config, logger *logrus.Entry) *Overlay {
	if conf.MaxOutbound <= 0 {
		conf.MaxOutbound = 10
	}
	if conf.HandshakeTimeout <= 0 {
		conf.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &Overlay{
		conf:   conf,
		finder: NewFinder(conf.MaxOutbound, logger),
		logger: logger,
		peers:  make(map[uint32]*Peer),
		byKey:  make(map[string]*Peer),
	}
}

// Finder exposes the overlay's slot allocator.
func (o *Overlay) Finder() *Finder {
	return o.finder
}

// SetDataSink installs the sink that receives ledger data from peer sessions.
// It must be called before the first session is added.
func (o *Overlay) SetDataSink(sink DataSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sink = sink
}

// Connect prepares a connect attempt toward addr. The caller runs it, usually
// with `go attempt.Run()`.
func (o *Overlay) Connect(addr string) (*ConnectAttempt, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("overlay: closed")
	}
	o.nextID++
	id := o.nextID
	o.mu.Unlock()

	return NewConnectAttempt(AttemptConfig{
		ID:            id,
		Remote:        addr,
		Key:           o.conf.Key,
		HTTPHandshake: o.conf.HTTPHandshake,
		ListenPort:    o.conf.ListenPort,
		Moniker:       o.conf.Moniker,
		Timeout:       o.conf.HandshakeTimeout,
		UserAgent:     "rtxd-" + version.Version,
	}, o.finder, o, o.logger)
}

// AddActive implements Gateway. It registers the session and starts its read
// and write loops. A session presenting a key we already hold replaces the
// older session.
func (o *Overlay) AddActive(p *Peer) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		p.Close()
		return
	}
	old := o.byKey[p.PublicKey()]
	o.peers[p.ID()] = p
	o.byKey[p.PublicKey()] = p
	sink := o.sink
	o.mu.Unlock()

	if old != nil {
		old.Close()
	}

	o.logger.WithFields(logrus.Fields{
		"peer":   p.ID(),
		"remote": p.Remote(),
	}).Info("Peer active")

	p.start(sink, o.remove)
}

// ClusterName implements Gateway.
func (o *Overlay) ClusterName(publicKey string) (string, bool) {
	name, ok := o.conf.ClusterKeys[publicKey]
	return name, ok
}

func (o *Overlay) remove(p *Peer) {
	o.mu.Lock()
	if o.peers[p.ID()] == p {
		delete(o.peers, p.ID())
	}
	if o.byKey[p.PublicKey()] == p {
		delete(o.byKey, p.PublicKey())
	}
	o.mu.Unlock()

	o.logger.WithField("peer", p.ID()).Info("Peer removed")
}

// GetPeerByID returns the live session with the given id, or nil.
func (o *Overlay) GetPeerByID(id uint32) *Peer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peers[id]
}

// HasPeer reports whether a session with the given id is live.
func (o *Overlay) HasPeer(id uint32) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.peers[id]
	return ok
}

// SendTo sends a message to one peer. It reports false when the peer is gone
// or its queue is full.
func (o *Overlay) SendTo(id uint32, t wire.Type, body interface{}) bool {
	p := o.GetPeerByID(id)
	if p == nil {
		return false
	}
	return p.Send(t, body)
}

// Broadcast sends a message to every live peer.
func (o *Overlay) Broadcast(t wire.Type, body interface{}) {
	o.mu.Lock()
	peers := make([]*Peer, 0, len(o.peers))
	for _, p := range o.peers {
		peers = append(peers, p)
	}
	o.mu.Unlock()

	for _, p := range peers {
		p.Send(t, body)
	}
}

// Peers returns a snapshot of the live sessions.
func (o *Overlay) Peers() []*Peer {
	o.mu.Lock()
	defer o.mu.Unlock()

	peers := make([]*Peer, 0, len(o.peers))
	for _, p := range o.peers {
		peers = append(peers, p)
	}
	return peers
}

// PeerCount returns the number of live sessions.
func (o *Overlay) PeerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.peers)
}

// Stop closes every session and refuses new ones.
func (o *Overlay) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	peers := make([]*Peer, 0, len(o.peers))
	for _, p := range o.peers {
		peers = append(peers, p)
	}
	o.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
