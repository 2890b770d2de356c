package overlay

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rtxnet/rtxd/src/common"
	"github.com/rtxnet/rtxd/src/crypto/keys"
	"github.com/rtxnet/rtxd/src/wire"
)

//------------------------------------------------------------------------------
// test doubles

type stubFinder struct {
	mu             sync.Mutex
	duplicate      bool
	activateResult ActivateResult
	closed         int
	redirectFrom   string
	redirects      []string
}

func (f *stubFinder) NewOutboundSlot(addr string) *Slot {
	return &Slot{remote: addr}
}

func (f *stubFinder) OnConnected(slot *Slot, localAddr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.duplicate
}

func (f *stubFinder) Activate(slot *Slot, publicKey string, cluster bool) ActivateResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activateResult
}

func (f *stubFinder) OnClosed(slot *Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *stubFinder) OnRedirects(from string, endpoints []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirectFrom = from
	f.redirects = append([]string(nil), endpoints...)
}

func (f *stubFinder) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *stubFinder) redirectSnapshot() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redirectFrom, append([]string(nil), f.redirects...)
}

type stubGateway struct {
	mu    sync.Mutex
	added []*Peer
}

func (g *stubGateway) AddActive(p *Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.added = append(g.added, p)
}

func (g *stubGateway) ClusterName(publicKey string) (string, bool) {
	return "", false
}

func (g *stubGateway) addedPeers() []*Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Peer(nil), g.added...)
}

//------------------------------------------------------------------------------
// test servers

func serverTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
	}
}

// startTLSServer accepts one connection, completes the TLS handshake, and
// hands the stream to the handler.
func startTLSServer(t *testing.T, handler func(conn *tls.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	tlsConf := serverTLSConfig(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tlsConn := tls.Server(conn, tlsConf)
		if err := tlsConn.Handshake(); err != nil {
			return
		}
		handler(tlsConn)
	}()

	return ln.Addr().String()
}

// startSilentServer accepts one connection and never speaks.
func startSilentServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Hold the socket open, discarding what the client sends, until the
		// client hangs up.
		io.Copy(io.Discard, conn)
		conn.Close()
	}()

	return ln.Addr().String()
}

// upgradeHandler answers the HTTP handshake with a valid 101 and a signed
// hello.
func upgradeHandler(t *testing.T, serverKey *ecdsa.PrivateKey) func(conn *tls.Conn) {
	return func(conn *tls.Conn) {
		br := bufio.NewReader(conn)
		if _, err := http.ReadRequest(br); err != nil {
			return
		}

		sharedValue, ok := MakeSharedValue(conn)
		if !ok {
			return
		}
		hello, err := BuildHello(serverKey, sharedValue, 51235, "server")
		if err != nil {
			return
		}

		var buf bytes.Buffer
		buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
		buf.WriteString("Connection: Upgrade\r\n")
		buf.WriteString("Upgrade: " + ProtocolVersion + "\r\n")
		h := make(http.Header)
		AppendHello(h, hello)
		h.Write(&buf)
		buf.WriteString("\r\n")
		conn.Write(buf.Bytes())
	}
}

// statusHandler answers the HTTP handshake with an arbitrary status and body.
func statusHandler(status int, reason, contentType, body string) func(conn *tls.Conn) {
	return func(conn *tls.Conn) {
		br := bufio.NewReader(conn)
		if _, err := http.ReadRequest(br); err != nil {
			return
		}

		fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n", status, reason)
		fmt.Fprintf(conn, "Content-Type: %s\r\n", contentType)
		fmt.Fprintf(conn, "Content-Length: %d\r\n\r\n", len(body))
		fmt.Fprint(conn, body)
	}
}

// legacyHandler reads the framed client hello and answers with its own.
func legacyHandler(t *testing.T, serverKey *ecdsa.PrivateKey, replyType wire.Type) func(conn *tls.Conn) {
	return func(conn *tls.Conn) {
		br := bufio.NewReader(conn)

		var clientHello wire.Hello
		if err := wire.ExpectMessage(br, wire.TypeHello, &clientHello); err != nil {
			return
		}

		sharedValue, ok := MakeSharedValue(conn)
		if !ok {
			return
		}
		if _, ok := VerifyHello(clientHello, sharedValue); !ok {
			return
		}

		hello, err := BuildHello(serverKey, sharedValue, 51235, "server")
		if err != nil {
			return
		}
		wire.WriteMessage(conn, replyType, hello)
	}
}

//------------------------------------------------------------------------------

func newTestAttempt(t *testing.T, remote string, httpHandshake bool,
	finder PeerFinder, gateway Gateway) *ConnectAttempt {

	t.Helper()

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	attempt, err := NewConnectAttempt(AttemptConfig{
		ID:            1,
		Remote:        remote,
		Key:           key,
		HTTPHandshake: httpHandshake,
		ListenPort:    51235,
		Moniker:       "client",
		Timeout:       2 * time.Second,
		UserAgent:     "rtxd-test",
	}, finder, gateway, common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return attempt
}

func TestConnectAttemptUpgradeHappyPath(t *testing.T) {
	serverKey, _ := keys.GenerateECDSAKey()
	addr := startTLSServer(t, upgradeHandler(t, serverKey))

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, true, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeActivated {
		t.Fatalf("outcome %s, want %s", got, OutcomeActivated)
	}

	added := gateway.addedPeers()
	if len(added) != 1 {
		t.Fatalf("AddActive called %d times, want 1", len(added))
	}

	peer := added[0]
	if peer.ID() != 1 {
		t.Fatalf("peer id %d, want 1", peer.ID())
	}
	if peer.PublicKey() != keys.PublicKeyHex(&serverKey.PublicKey) {
		t.Fatal("peer public key does not match the server hello")
	}
	if finder.closedCount() != 0 {
		t.Fatal("slot released despite activation")
	}

	// The session owns the slot now; closing it releases exactly once.
	peer.Close()
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}

func TestConnectAttemptRedirect(t *testing.T) {
	addr := startTLSServer(t, statusHandler(503, "Service Unavailable",
		"application/json", `{"peer-ips":["1.2.3.4:51235","bad"]}`))

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, true, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeRedirect {
		t.Fatalf("outcome %s, want %s", got, OutcomeRedirect)
	}

	from, eps := finder.redirectSnapshot()
	if from != addr {
		t.Fatalf("redirect source %s, want %s", from, addr)
	}
	if len(eps) != 1 || eps[0] != "1.2.3.4:51235" {
		t.Fatalf("redirect endpoints %v, want exactly 1.2.3.4:51235", eps)
	}
	if len(gateway.addedPeers()) != 0 {
		t.Fatal("redirected attempt must not activate")
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}

func TestConnectAttemptRedirectMalformedJSON(t *testing.T) {
	addr := startTLSServer(t, statusHandler(503, "Service Unavailable",
		"application/json", `{oops`))

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, true, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeRedirect {
		t.Fatalf("outcome %s, want %s", got, OutcomeRedirect)
	}

	from, eps := finder.redirectSnapshot()
	if from != "" || len(eps) != 0 {
		t.Fatal("malformed redirect body must not produce an advisory")
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}

func TestConnectAttemptNonUpgradeResponse(t *testing.T) {
	addr := startTLSServer(t, statusHandler(400, "Bad Request", "text/plain", "no"))

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, true, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeRejected {
		t.Fatalf("outcome %s, want %s", got, OutcomeRejected)
	}
	if len(gateway.addedPeers()) != 0 {
		t.Fatal("rejected attempt must not activate")
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}

func TestConnectAttemptDuplicateConnection(t *testing.T) {
	serverKey, _ := keys.GenerateECDSAKey()
	addr := startTLSServer(t, upgradeHandler(t, serverKey))

	finder := &stubFinder{duplicate: true, activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, true, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeDuplicate {
		t.Fatalf("outcome %s, want %s", got, OutcomeDuplicate)
	}
	if len(gateway.addedPeers()) != 0 {
		t.Fatal("duplicate attempt must not activate")
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}

func TestConnectAttemptSlotsFull(t *testing.T) {
	serverKey, _ := keys.GenerateECDSAKey()
	addr := startTLSServer(t, upgradeHandler(t, serverKey))

	finder := &stubFinder{activateResult: ActivateFull}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, true, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeSlotsFull {
		t.Fatalf("outcome %s, want %s", got, OutcomeSlotsFull)
	}
	if len(gateway.addedPeers()) != 0 {
		t.Fatal("attempt must not activate when slots are full")
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}

func TestConnectAttemptTimeout(t *testing.T) {
	addr := startSilentServer(t)

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	key, _ := keys.GenerateECDSAKey()
	attempt, err := NewConnectAttempt(AttemptConfig{
		ID:            1,
		Remote:        addr,
		Key:           key,
		HTTPHandshake: true,
		Timeout:       150 * time.Millisecond,
		UserAgent:     "rtxd-test",
	}, finder, gateway, common.NewTestEntry(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	start := time.Now()
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeTimeout {
		t.Fatalf("outcome %s, want %s", got, OutcomeTimeout)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
	if len(gateway.addedPeers()) != 0 {
		t.Fatal("timed-out attempt must not activate")
	}
}

func TestConnectAttemptStop(t *testing.T) {
	addr := startSilentServer(t)

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, true, finder, gateway)

	go attempt.Run()
	time.Sleep(50 * time.Millisecond)
	attempt.Stop()
	attempt.Wait()

	if got := attempt.Outcome(); got != OutcomeStopped {
		t.Fatalf("outcome %s, want %s", got, OutcomeStopped)
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}

	// A second Stop is a no-op.
	attempt.Stop()
	if finder.closedCount() != 1 {
		t.Fatal("second Stop released the slot again")
	}
}

func TestConnectAttemptLegacyHappyPath(t *testing.T) {
	serverKey, _ := keys.GenerateECDSAKey()
	addr := startTLSServer(t, legacyHandler(t, serverKey, wire.TypeHello))

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, false, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeActivated {
		t.Fatalf("outcome %s, want %s", got, OutcomeActivated)
	}

	added := gateway.addedPeers()
	if len(added) != 1 {
		t.Fatalf("AddActive called %d times, want 1", len(added))
	}
	if added[0].PublicKey() != keys.PublicKeyHex(&serverKey.PublicKey) {
		t.Fatal("peer public key does not match the server hello")
	}

	added[0].Close()
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}

func TestConnectAttemptLegacyWrongType(t *testing.T) {
	serverKey, _ := keys.GenerateECDSAKey()
	addr := startTLSServer(t, legacyHandler(t, serverKey, wire.TypePing))

	finder := &stubFinder{activateResult: ActivateSuccess}
	gateway := &stubGateway{}

	attempt := newTestAttempt(t, addr, false, finder, gateway)
	attempt.Run()

	if got := attempt.Outcome(); got != OutcomeRejected {
		t.Fatalf("outcome %s, want %s", got, OutcomeRejected)
	}
	if finder.closedCount() != 1 {
		t.Fatalf("slot released %d times, want 1", finder.closedCount())
	}
}
