package overlay

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/wire"
)

// attemptState enumerates the stages of an outbound handshake. Each state has
// exactly one successor or a terminal failure.
type attemptState int

const (
	stateInit attemptState = iota
	stateConnecting
	stateTLSHandshaking
	stateHTTPWriting
	stateHTTPReading
	stateLegacyWritingHello
	stateLegacyReadingHeader
	stateLegacyReadingBody
	stateAuthenticating
	stateActivated
	stateClosed
)

// Outcomes reported by ConnectAttempt.Outcome.
const (
	OutcomeActivated = "activated"
	OutcomeTimeout   = "timeout"
	OutcomeStopped   = "stopped"
	OutcomeRedirect  = "redirect"
	OutcomeDuplicate = "duplicate"
	OutcomeSlotsFull = "slots-full"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport"
)

// DefaultHandshakeTimeout is the guard applied to each network operation of
// an attempt.
const DefaultHandshakeTimeout = 15 * time.Second

const maxResponseBody = 1 << 20

// ErrNoSlot is returned when the finder cannot reserve an outbound slot.
var ErrNoSlot = errors.New("overlay: no outbound slot available")

// Gateway receives the session produced by a successful attempt.
type Gateway interface {
	// AddActive registers an authenticated peer session and starts it.
	AddActive(p *Peer)

	// ClusterName resolves a public key to a cluster member name.
	ClusterName(publicKey string) (string, bool)
}

// ConnectAttempt drives a single outbound dial through TCP connect, TLS
// handshake, and the protocol-upgrade exchange, producing an authenticated
// Peer session or failing cleanly.
//
// All stage transitions execute on the attempt's own goroutine. A single
// timer guards each outstanding network operation; expiry closes the socket,
// and the blocked operation resolves the failure to a timeout. Stop is safe
// from any goroutine.
type ConnectAttempt struct {
	id      uint32
	remote  string
	finder  PeerFinder
	gateway Gateway
	key     *ecdsa.PrivateKey

	httpHandshake bool
	listenPort    int
	moniker       string
	timeout       time.Duration
	userAgent     string

	logger *logrus.Entry

	mu       sync.Mutex
	state    attemptState
	conn     net.Conn
	timer    *time.Timer
	stopped  bool
	timedOut bool
	slot     *Slot
	outcome  string

	doneCh chan struct{}
}

// AttemptConfig carries the knobs of a ConnectAttempt.
type AttemptConfig struct {
	ID            uint32
	Remote        string
	Key           *ecdsa.PrivateKey
	HTTPHandshake bool
	ListenPort    int
	Moniker       string
	Timeout       time.Duration
	UserAgent     string
}

// NewConnectAttempt reserves an outbound slot and prepares an attempt. The
// slot stays reserved until activation hands it to the session or the attempt
// releases it on any exit.
func NewConnectAttempt(cfg AttemptConfig, finder PeerFinder, gateway Gateway, logger *logrus.Entry) (*ConnectAttempt, error) {
	slot := finder.NewOutboundSlot(cfg.Remote)
	if slot == nil {
		return nil, ErrNoSlot
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	return &ConnectAttempt{
		id:            cfg.ID,
		remote:        cfg.Remote,
		finder:        finder,
		slot:          slot,
		gateway:       gateway,
		key:           cfg.Key,
		httpHandshake: cfg.HTTPHandshake,
		listenPort:    cfg.ListenPort,
		moniker:       cfg.Moniker,
		timeout:       timeout,
		userAgent:     cfg.UserAgent,
		logger:        logger.WithField("attempt", cfg.ID).WithField("remote", cfg.Remote),
		doneCh:        make(chan struct{}),
	}, nil
}

// Run executes the attempt to completion. It must be called exactly once, and
// is typically run on its own goroutine.
func (a *ConnectAttempt) Run() {
	defer close(a.doneCh)

	a.logger.Debug("Connect")

	if !a.setState(stateConnecting) {
		a.finish(OutcomeStopped, "stopped before dial", nil)
		return
	}

	conn, err := net.DialTimeout("tcp", a.remote, a.timeout)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			a.finish(OutcomeTimeout, "connect timeout", nil)
		} else {
			a.finish(OutcomeTransport, "connect", err)
		}
		return
	}
	if !a.adopt(conn) {
		return
	}
	localAddr := conn.LocalAddr().String()

	if !a.setState(stateTLSHandshaking) {
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}

	// No certificate verification: the shared value derived from the TLS
	// session replaces PKI trust.
	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if !a.adopt(tlsConn) {
		return
	}

	a.setTimer()
	err = tlsConn.Handshake()
	a.cancelTimer()
	if err != nil {
		a.finishIO("tls handshake", err)
		return
	}

	if !a.finder.OnConnected(a.slot, localAddr) {
		a.finish(OutcomeDuplicate, "duplicate connection", nil)
		return
	}

	sharedValue, ok := MakeSharedValue(tlsConn)
	if !ok {
		a.finish(OutcomeRejected, "makeSharedValue", nil)
		return
	}

	hello, err := BuildHello(a.key, sharedValue, a.listenPort, a.moniker)
	if err != nil {
		a.finish(OutcomeRejected, "buildHello", err)
		return
	}

	br := bufio.NewReader(tlsConn)
	if a.httpHandshake {
		a.doUpgrade(tlsConn, br, sharedValue, hello)
	} else {
		a.doLegacy(tlsConn, br, sharedValue, hello)
	}
}

// Stop aborts the attempt from any goroutine. The attempt's goroutine
// observes the closed socket and exits without further side effects.
func (a *ConnectAttempt) Stop() {
	a.mu.Lock()
	if a.state == stateActivated || a.state == stateClosed {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	conn := a.conn
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until the attempt reaches a terminal state.
func (a *ConnectAttempt) Wait() {
	<-a.doneCh
}

// Outcome returns the terminal outcome of the attempt. It is only meaningful
// after Wait returns.
func (a *ConnectAttempt) Outcome() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome
}

//------------------------------------------------------------------------------

func (a *ConnectAttempt) doUpgrade(tlsConn *tls.Conn, br *bufio.Reader, sharedValue []byte, hello wire.Hello) {
	if !a.setState(stateHTTPWriting) {
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}

	req := a.makeRequest()
	AppendHello(req.Header, hello)

	a.setTimer()
	err := req.Write(tlsConn)
	a.cancelTimer()
	if err != nil {
		a.finishIO("write upgrade request", err)
		return
	}

	if !a.setState(stateHTTPReading) {
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}

	a.setTimer()
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		a.cancelTimer()
		a.finishIO("read upgrade response", err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
	a.cancelTimer()
	if err != nil {
		a.finishIO("read response body", err)
		return
	}

	a.processResponse(resp, body, tlsConn, br, sharedValue)
}

func (a *ConnectAttempt) processResponse(resp *http.Response, body []byte, tlsConn *tls.Conn, br *bufio.Reader, sharedValue []byte) {
	if resp.StatusCode == http.StatusServiceUnavailable {
		if eps := ParseRedirects(body); len(eps) > 0 {
			a.finder.OnRedirects(a.remote, eps)
		}
		a.finish(OutcomeRedirect, "redirected", nil)
		return
	}

	if !IsPeerUpgrade(resp) {
		a.finish(OutcomeRejected, fmt.Sprintf("HTTP response: %d %s", resp.StatusCode, resp.Status), nil)
		return
	}

	hello, ok := ParseHello(resp.Header)
	if !ok {
		a.finish(OutcomeRejected, "bad hello headers", nil)
		return
	}

	a.authenticate(hello, tlsConn, br, sharedValue)
}

func (a *ConnectAttempt) makeRequest() *http.Request {
	return &http.Request{
		Method:     "GET",
		URL:        &url.URL{Path: "/"},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       a.remote,
		Header: http.Header{
			"Upgrade":    []string{ProtocolVersion},
			"Connection": []string{"Upgrade"},
			"Connect-As": []string{"Peer"},
			"User-Agent": []string{a.userAgent},
		},
	}
}

//------------------------------------------------------------------------------

func (a *ConnectAttempt) doLegacy(tlsConn *tls.Conn, br *bufio.Reader, sharedValue []byte, hello wire.Hello) {
	if !a.setState(stateLegacyWritingHello) {
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}

	// The hello write is not re-guarded; the timer is armed over the header
	// and body reads that follow.
	if err := wire.WriteMessage(tlsConn, wire.TypeHello, hello); err != nil {
		a.finishIO("write hello", err)
		return
	}

	if !a.setState(stateLegacyReadingHeader) {
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}

	a.setTimer()

	hdr := make([]byte, wire.HeaderBytes)
	if _, err := io.ReadFull(br, hdr); err != nil {
		a.cancelTimer()
		a.finishIO("read hello header", err)
		return
	}

	msgType, n, err := wire.ParseHeader(hdr)
	if err != nil {
		a.cancelTimer()
		a.finish(OutcomeRejected, "hello header", err)
		return
	}
	if msgType != wire.TypeHello {
		a.cancelTimer()
		a.finish(OutcomeRejected, fmt.Sprintf("expected Hello, got %s", msgType), nil)
		return
	}

	if !a.setState(stateLegacyReadingBody) {
		a.cancelTimer()
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		a.cancelTimer()
		a.finishIO("read hello body", err)
		return
	}
	a.cancelTimer()

	var peerHello wire.Hello
	if err := wire.DecodeBody(body, &peerHello); err != nil {
		a.finish(OutcomeRejected, "hello parse", err)
		return
	}

	a.authenticate(peerHello, tlsConn, br, sharedValue)
}

//------------------------------------------------------------------------------

func (a *ConnectAttempt) authenticate(hello wire.Hello, tlsConn *tls.Conn, br *bufio.Reader, sharedValue []byte) {
	if !a.setState(stateAuthenticating) {
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}

	pubBytes, ok := VerifyHello(hello, sharedValue)
	if !ok {
		// The hello contents are not logged.
		a.finish(OutcomeRejected, "verifyHello", nil)
		return
	}

	publicKey := hello.PublicKey
	a.logger.WithField("public_key", publicKey).Info("Authenticated")

	clusterName, cluster := a.gateway.ClusterName(publicKey)
	if cluster {
		a.logger.WithField("cluster", clusterName).Info("Cluster member")
	}

	result := a.finder.Activate(a.slot, publicKey, cluster)
	if result != ActivateSuccess {
		a.finish(OutcomeSlotsFull, "outbound slots full", nil)
		return
	}

	a.mu.Lock()
	if a.stopped || a.state == stateClosed {
		a.mu.Unlock()
		a.finish(OutcomeStopped, "stopped", nil)
		return
	}
	slot := a.slot
	a.slot = nil // ownership moves to the session
	a.conn = nil
	a.state = stateActivated
	a.outcome = OutcomeActivated
	a.mu.Unlock()

	peer := newPeer(a.id, publicKey, pubBytes, hello, a.remote, tlsConn, br, slot, a.finder, a.logger)
	a.gateway.AddActive(peer)
}

//------------------------------------------------------------------------------

// setState advances the state machine. It refuses the transition once the
// attempt is stopped or closed.
func (a *ConnectAttempt) setState(s attemptState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.state == stateClosed {
		return false
	}
	a.state = s
	return true
}

// adopt installs the current outermost connection, so that Stop and the timer
// can reach it. It fails when the attempt was stopped while dialing.
func (a *ConnectAttempt) adopt(c net.Conn) bool {
	a.mu.Lock()
	if a.stopped || a.state == stateClosed {
		a.mu.Unlock()
		c.Close()
		a.finish(OutcomeStopped, "stopped", nil)
		return false
	}
	a.conn = c
	a.mu.Unlock()
	return true
}

func (a *ConnectAttempt) setTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.timeout, a.onTimer)
}

func (a *ConnectAttempt) cancelTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *ConnectAttempt) onTimer() {
	a.mu.Lock()
	if a.timer == nil || a.state == stateActivated || a.state == stateClosed {
		a.mu.Unlock()
		return
	}
	a.timedOut = true
	conn := a.conn
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// finishIO resolves an I/O error to its terminal outcome: a stop and a timer
// expiry both surface as a closed-socket error on the blocked operation.
func (a *ConnectAttempt) finishIO(op string, err error) {
	a.mu.Lock()
	stopped, timedOut := a.stopped, a.timedOut
	a.mu.Unlock()

	switch {
	case stopped:
		a.finish(OutcomeStopped, "stopped", nil)
	case timedOut:
		a.finish(OutcomeTimeout, "timeout", nil)
	default:
		a.finish(OutcomeTransport, op, err)
	}
}

// finish records the outcome and tears the attempt down: cancel the timer,
// close the socket, release the slot. It is idempotent.
func (a *ConnectAttempt) finish(outcome, reason string, err error) {
	a.mu.Lock()
	if a.state == stateClosed || a.state == stateActivated {
		a.mu.Unlock()
		return
	}
	a.state = stateClosed
	a.outcome = outcome
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	conn := a.conn
	a.conn = nil
	slot := a.slot
	a.slot = nil
	a.mu.Unlock()

	if err != nil {
		a.logger.WithError(err).Debug(reason)
	} else {
		a.logger.Debug(reason)
	}

	if conn != nil {
		conn.Close()
	}
	if slot != nil {
		a.finder.OnClosed(slot)
	}
}
