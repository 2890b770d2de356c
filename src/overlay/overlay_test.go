package overlay

import (
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/rtxnet/rtxd/src/common"
	"github.com/rtxnet/rtxd/src/crypto/keys"
	"github.com/rtxnet/rtxd/src/wire"
)

func TestFinderSlotAccounting(t *testing.T) {
	f := NewFinder(2, common.NewTestEntry(t))

	s1 := f.NewOutboundSlot("10.0.0.1:51235")
	if s1 == nil {
		t.Fatal("expected a slot")
	}

	// Same endpoint is refused while the slot is held.
	if f.NewOutboundSlot("10.0.0.1:51235") != nil {
		t.Fatal("duplicate endpoint got a slot")
	}

	s2 := f.NewOutboundSlot("10.0.0.2:51235")
	if s2 == nil {
		t.Fatal("expected a second slot")
	}

	// At capacity.
	if f.NewOutboundSlot("10.0.0.3:51235") != nil {
		t.Fatal("slot handed out over capacity")
	}

	f.OnClosed(s1)
	if f.NewOutboundSlot("10.0.0.1:51235") == nil {
		t.Fatal("released endpoint still refused")
	}
}

func TestFinderActivateDuplicateKey(t *testing.T) {
	f := NewFinder(4, common.NewTestEntry(t))

	s1 := f.NewOutboundSlot("10.0.0.1:51235")
	s2 := f.NewOutboundSlot("10.0.0.2:51235")

	if got := f.Activate(s1, "0XKEY", false); got != ActivateSuccess {
		t.Fatalf("activate: %s", got)
	}
	if got := f.Activate(s2, "0XKEY", false); got != ActivateDuplicate {
		t.Fatalf("expected duplicate, got %s", got)
	}

	// Releasing the active slot frees the key.
	f.OnClosed(s1)
	if got := f.Activate(s2, "0XKEY", false); got != ActivateSuccess {
		t.Fatalf("activate after release: %s", got)
	}
}

func TestFinderRedirects(t *testing.T) {
	f := NewFinder(2, common.NewTestEntry(t))

	f.OnRedirects("10.0.0.1:51235", []string{"1.2.3.4:51235"})
	f.OnRedirects("10.0.0.1:51235", []string{"5.6.7.8:51235"})

	eps := f.TakeRedirects()
	if len(eps) != 2 {
		t.Fatalf("expected 2 endpoints, got %v", eps)
	}
	if len(f.TakeRedirects()) != 0 {
		t.Fatal("TakeRedirects must drain")
	}
}

type recordingSink struct {
	mu         sync.Mutex
	ledgerData []wire.LedgerData
}

func (s *recordingSink) OnLedgerData(from uint32, msg wire.LedgerData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgerData = append(s.ledgerData, msg)
}

func (s *recordingSink) OnTxSetData(from uint32, msg wire.TxSetData) {}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledgerData)
}

// A full session: HTTP-upgrade handshake through the real Overlay and Finder,
// then a framed ledger-data message routed to the sink.
func TestOverlaySessionEndToEnd(t *testing.T) {
	serverKey, _ := keys.GenerateECDSAKey()
	fp := wire.FingerprintOf([]byte("ledger"))

	hold := make(chan struct{})
	addr := startTLSServer(t, func(conn *tls.Conn) {
		upgradeHandler(t, serverKey)(conn)
		wire.WriteMessage(conn, wire.TypeLedgerData, wire.LedgerData{
			LedgerHash: fp,
			ItemType:   wire.ItemBase,
			Nodes:      [][]byte{[]byte("base")},
		})
		<-hold
	})
	defer close(hold)

	clientKey, _ := keys.GenerateECDSAKey()
	ov := NewOverlay(Config{
		Key:              clientKey,
		HTTPHandshake:    true,
		MaxOutbound:      4,
		HandshakeTimeout: 2 * time.Second,
		Moniker:          "client",
	}, common.NewTestEntry(t))
	defer ov.Stop()

	sink := &recordingSink{}
	ov.SetDataSink(sink)

	attempt, err := ov.Connect(addr)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeActivated {
		t.Fatalf("outcome %s, want %s", got, OutcomeActivated)
	}
	if ov.PeerCount() != 1 {
		t.Fatalf("peer count %d, want 1", ov.PeerCount())
	}

	deadline := time.Now().Add(3 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ledger data never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}

	peer := ov.Peers()[0]
	if !ov.HasPeer(peer.ID()) {
		t.Fatal("HasPeer disagrees with Peers")
	}
	if ov.GetPeerByID(peer.ID()) != peer {
		t.Fatal("GetPeerByID disagrees with Peers")
	}
}
