// Package wire defines the framed messages exchanged between rtxd peers.
//
// Every message on an established session is a 6-byte header (payload length
// and message type, both big-endian) followed by the encoded body. The first
// message on a legacy connection is always a Hello. Bodies are encoded with
// the canonical JSON handle of github.com/ugorji/go/codec so that a message
// has exactly one wire form.
package wire
