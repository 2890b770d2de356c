package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies a framed message.
type Type uint16

const (
	TypeHello Type = iota + 1
	TypePing
	TypeGetLedger
	TypeLedgerData
	TypeGetTxSet
	TypeTxSetData
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "Hello"
	case TypePing:
		return "Ping"
	case TypeGetLedger:
		return "GetLedger"
	case TypeLedgerData:
		return "LedgerData"
	case TypeGetTxSet:
		return "GetTxSet"
	case TypeTxSetData:
		return "TxSetData"
	}
	return fmt.Sprintf("Unknown(%d)", uint16(t))
}

const (
	// HeaderBytes is the size of the framed message header: a 4-byte
	// big-endian payload length followed by a 2-byte big-endian type.
	HeaderBytes = 6

	// MaxPayloadBytes bounds the declared payload length of a single framed
	// message. A header declaring more is a transport error.
	MaxPayloadBytes = 64 * 1024 * 1024
)

var ErrPayloadTooLarge = errors.New("wire: declared payload exceeds maximum")

// PutHeader writes a message header for a payload of n bytes into buf, which
// must be at least HeaderBytes long.
func PutHeader(buf []byte, t Type, n int) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(n))
	binary.BigEndian.PutUint16(buf[4:6], uint16(t))
}

// ParseHeader reads a message header from buf, which must be at least
// HeaderBytes long. It returns the message type and the declared payload
// length.
func ParseHeader(buf []byte) (Type, int, error) {
	n := int(binary.BigEndian.Uint32(buf[0:4]))
	t := Type(binary.BigEndian.Uint16(buf[4:6]))
	if n > MaxPayloadBytes {
		return t, 0, ErrPayloadTooLarge
	}
	return t, n, nil
}
