package overlay

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ActivateResult is the outcome of asking the Finder to activate a slot.
type ActivateResult int

const (
	ActivateSuccess ActivateResult = iota
	ActivateFull
	ActivateDuplicate
)

func (r ActivateResult) String() string {
	switch r {
	case ActivateSuccess:
		return "success"
	case ActivateFull:
		return "full"
	}
	return "duplicate"
}

// Slot is a reservation in the Finder for an in-flight or active outbound
// channel. It is released exactly once, either through activation handoff to
// a Peer or through the Finder's OnClosed.
type Slot struct {
	remote    string
	active    bool
	publicKey string
}

// Remote returns the endpoint the slot was reserved for.
func (s *Slot) Remote() string {
	return s.remote
}

// PeerFinder is the slot allocator and address book consumed by
// ConnectAttempt. The concrete implementation is Finder; tests substitute
// stubs.
type PeerFinder interface {
	// NewOutboundSlot reserves a slot for an outbound dial to addr. It
	// returns nil when no slot is available or the endpoint is already
	// taken.
	NewOutboundSlot(addr string) *Slot

	// OnConnected reports the locally observed endpoint once the transport
	// is up. A false return means this connection duplicates another one and
	// must be torn down.
	OnConnected(slot *Slot, localAddr string) bool

	// Activate promotes the slot to an active peer channel bound to a
	// verified public key.
	Activate(slot *Slot, publicKey string, cluster bool) ActivateResult

	// OnClosed releases a slot that did not activate, or whose peer session
	// ended.
	OnClosed(slot *Slot)

	// OnRedirects records advisory endpoints received from a busy peer.
	OnRedirects(from string, endpoints []string)
}

// Finder implements PeerFinder with an outbound-slot cap, duplicate-endpoint
// and duplicate-key detection, and a redirect address book the dialer draws
// from.
type Finder struct {
	mu          sync.Mutex
	maxOutbound int
	byRemote    map[string]*Slot
	byKey       map[string]*Slot
	redirects   []string
	logger      *logrus.Entry
}

// NewFinder creates a Finder allowing up to maxOutbound concurrent slots.
func NewFinder(maxOutbound int, logger *logrus.Entry) *Finder {
	return &Finder{
		maxOutbound: maxOutbound,
		byRemote:    make(map[string]*Slot),
		byKey:       make(map[string]*Slot),
		logger:      logger,
	}
}

// NewOutboundSlot implements PeerFinder.
func (f *Finder) NewOutboundSlot(addr string) *Slot {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.byRemote) >= f.maxOutbound {
		return nil
	}
	if _, ok := f.byRemote[addr]; ok {
		return nil
	}

	slot := &Slot{remote: addr}
	f.byRemote[addr] = slot
	return slot
}

// OnConnected implements PeerFinder. A connection is a duplicate when the
// local endpoint of this socket is the remote endpoint of a slot we already
// hold, meaning both sides dialed each other.
func (f *Finder) OnConnected(slot *Slot, localAddr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	other, ok := f.byRemote[localAddr]
	if ok && other != slot {
		return false
	}
	return true
}

// Activate implements PeerFinder.
func (f *Finder) Activate(slot *Slot, publicKey string, cluster bool) ActivateResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.byKey[publicKey]; ok {
		return ActivateDuplicate
	}

	slot.active = true
	slot.publicKey = publicKey
	f.byKey[publicKey] = slot

	f.logger.WithFields(logrus.Fields{
		"remote":  slot.remote,
		"cluster": cluster,
	}).Debug("Slot activated")

	return ActivateSuccess
}

// OnClosed implements PeerFinder.
func (f *Finder) OnClosed(slot *Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.byRemote, slot.remote)
	if slot.active {
		delete(f.byKey, slot.publicKey)
		slot.active = false
	}
}

// OnRedirects implements PeerFinder.
func (f *Finder) OnRedirects(from string, endpoints []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logger.WithFields(logrus.Fields{
		"from":  from,
		"count": len(endpoints),
	}).Debug("Redirect advisory")

	f.redirects = append(f.redirects, endpoints...)
}

// TakeRedirects drains the advisory endpoints accumulated so far.
func (f *Finder) TakeRedirects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	eps := f.redirects
	f.redirects = nil
	return eps
}

// SlotCount returns the number of reserved slots.
func (f *Finder) SlotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byRemote)
}
