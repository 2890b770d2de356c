package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"
)

// Hello is the first application-level message exchanged on a connection. It
// carries the peer's identity and a signature over the shared value derived
// from the TLS session, binding the identity to this specific connection.
type Hello struct {
	ProtoVersion    string `json:"proto_version"`
	ProtoVersionMin string `json:"proto_version_min"`
	PublicKey       string `json:"public_key"`
	Signature       string `json:"signature"`
	ListenPort      int    `json:"listen_port"`
	Moniker         string `json:"moniker"`
}

// LedgerItemType selects which part of a ledger a GetLedger request targets.
type LedgerItemType uint8

const (
	ItemBase LedgerItemType = iota + 1
	ItemTxNode
	ItemStateNode
)

// GetLedger solicits ledger data from a peer. With no NodeIDs it asks for the
// item type's root; QueryDepth controls how many levels below the requested
// nodes the responder may include.
type GetLedger struct {
	LedgerHash Fingerprint    `json:"ledger_hash"`
	ItemType   LedgerItemType `json:"item_type"`
	NodeIDs    [][]byte       `json:"node_ids"`
	QueryDepth int            `json:"query_depth"`
}

// LedgerData carries ledger nodes in response to a GetLedger.
type LedgerData struct {
	LedgerHash Fingerprint    `json:"ledger_hash"`
	ItemType   LedgerItemType `json:"item_type"`
	Nodes      [][]byte       `json:"nodes"`
}

// GetTxSet solicits a transaction set by fingerprint.
type GetTxSet struct {
	SetHash Fingerprint `json:"set_hash"`
}

// TxSetData carries transaction-set nodes in response to a GetTxSet.
type TxSetData struct {
	SetHash Fingerprint `json:"set_hash"`
	Nodes   [][]byte    `json:"nodes"`
}

// Ping is a keepalive.
type Ping struct {
	Seq uint32 `json:"seq"`
}

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

// EncodeBody encodes a message body to its canonical wire form.
func EncodeBody(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle())
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DecodeBody decodes a message body produced by EncodeBody.
func DecodeBody(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	dec := codec.NewDecoder(b, jsonHandle())
	return dec.Decode(v)
}

// WriteMessage frames and writes a single message.
func WriteMessage(w io.Writer, t Type, v interface{}) error {
	body, err := EncodeBody(v)
	if err != nil {
		return err
	}
	if len(body) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	hdr := make([]byte, HeaderBytes)
	PutHeader(hdr, t, len(body))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadMessage reads one framed message and returns its type and raw body.
func ReadMessage(r io.Reader) (Type, []byte, error) {
	hdr := make([]byte, HeaderBytes)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	t, n, err := ParseHeader(hdr)
	if err != nil {
		return t, nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return t, nil, err
	}
	return t, body, nil
}

// ExpectMessage reads one framed message and decodes it into v, failing if the
// type on the wire is not the expected one.
func ExpectMessage(r io.Reader, want Type, v interface{}) error {
	t, body, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if t != want {
		return fmt.Errorf("wire: expected %s, got %s", want, t)
	}
	return DecodeBody(body, v)
}
