package overlay

import (
	"bufio"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/crypto/keys"
	"github.com/rtxnet/rtxd/src/wire"
)

// DataSink receives the ledger-data messages arriving on peer sessions. The
// acquisition registry implements it and routes by fingerprint.
type DataSink interface {
	OnLedgerData(from uint32, msg wire.LedgerData)
	OnTxSetData(from uint32, msg wire.TxSetData)
}

type outMsg struct {
	t    wire.Type
	body interface{}
}

const peerSendBacklog = 64

// Peer is an authenticated, active session produced by a successful
// ConnectAttempt. It owns the connection, any residual bytes buffered during
// the handshake, and the slot.
type Peer struct {
	id        uint32
	publicKey string
	pubBytes  []byte
	hello     wire.Hello
	remote    string

	conn   net.Conn
	br     *bufio.Reader
	slot   *Slot
	finder PeerFinder
	logger *logrus.Entry

	outCh chan outMsg

	mu      sync.Mutex
	sink    DataSink
	onClose func(*Peer)
	closed  bool

	doneCh chan struct{}
}

func newPeer(id uint32, publicKey string, pubBytes []byte, hello wire.Hello,
	remote string, conn net.Conn, br *bufio.Reader, slot *Slot,
	finder PeerFinder, logger *logrus.Entry) *Peer {

	return &Peer{
		id:        id,
		publicKey: publicKey,
		pubBytes:  pubBytes,
		hello:     hello,
		remote:    remote,
		conn:      conn,
		br:        br,
		slot:      slot,
		finder:    finder,
		logger:    logger.WithField("peer", id),
		outCh:     make(chan outMsg, peerSendBacklog),
		doneCh:    make(chan struct{}),
	}
}

// ID returns the peer's overlay id.
func (p *Peer) ID() uint32 {
	return p.id
}

// PublicKey returns the hex form of the peer's public key.
func (p *Peer) PublicKey() string {
	return p.publicKey
}

// KeyID returns the compact id derived from the peer's public key.
func (p *Peer) KeyID() uint32 {
	return keys.PublicKeyID(p.pubBytes)
}

// Remote returns the peer's remote endpoint.
func (p *Peer) Remote() string {
	return p.remote
}

// Hello returns the hello message the peer presented.
func (p *Peer) Hello() wire.Hello {
	return p.hello
}

// start launches the session's read and write loops. Called by the Overlay
// when the session is registered.
func (p *Peer) start(sink DataSink, onClose func(*Peer)) {
	p.mu.Lock()
	p.sink = sink
	p.onClose = onClose
	p.mu.Unlock()

	go p.writeLoop()
	go p.readLoop()
}

// Send enqueues a message for delivery. Sends are fire-and-forget: when the
// outbound queue is full or the session is closed, the message is dropped and
// Send reports false.
func (p *Peer) Send(t wire.Type, body interface{}) bool {
	select {
	case <-p.doneCh:
		return false
	default:
	}

	select {
	case p.outCh <- outMsg{t: t, body: body}:
		return true
	default:
		p.logger.WithField("type", t.String()).Debug("Send queue full, dropped")
		return false
	}
}

// Close tears the session down and releases the slot. Idempotent.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	onClose := p.onClose
	p.mu.Unlock()

	close(p.doneCh)
	p.conn.Close()
	p.finder.OnClosed(p.slot)

	if onClose != nil {
		onClose(p)
	}
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.doneCh:
			return
		case m := <-p.outCh:
			if err := wire.WriteMessage(p.conn, m.t, m.body); err != nil {
				p.logger.WithError(err).Debug("Write failed")
				p.Close()
				return
			}
		}
	}
}

func (p *Peer) readLoop() {
	for {
		t, body, err := wire.ReadMessage(p.br)
		if err != nil {
			p.logger.WithError(err).Debug("Read failed")
			p.Close()
			return
		}
		p.dispatch(t, body)
	}
}

func (p *Peer) dispatch(t wire.Type, body []byte) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()

	switch t {
	case wire.TypePing:
		// Keepalive; nothing to do beyond resetting the read.

	case wire.TypeLedgerData:
		var msg wire.LedgerData
		if err := wire.DecodeBody(body, &msg); err != nil {
			p.logger.WithError(err).Debug("Bad LedgerData")
			return
		}
		if sink != nil {
			sink.OnLedgerData(p.id, msg)
		}

	case wire.TypeTxSetData:
		var msg wire.TxSetData
		if err := wire.DecodeBody(body, &msg); err != nil {
			p.logger.WithError(err).Debug("Bad TxSetData")
			return
		}
		if sink != nil {
			sink.OnTxSetData(p.id, msg)
		}

	default:
		p.logger.WithField("type", t.String()).Debug("Unhandled message")
	}
}
