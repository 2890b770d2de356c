package paths

import (
	"github.com/rtxnet/rtxd/src/ledger"
)

// NodeType classifies one element of a payment path.
type NodeType int

const (
	// NodeSource is the source account, with an issuer account if needed.
	NodeSource NodeType = iota

	// NodeAccounts are accounts that connect from this source/currency.
	NodeAccounts

	// NodeBooks are order books that connect to this currency.
	NodeBooks

	// NodeXRPBook is the order book from this currency to XRP.
	NodeXRPBook

	// NodeDestBook is the order book to the destination currency/issuer.
	NodeDestBook

	// NodeDestination is the destination account only.
	NodeDestination
)

func (t NodeType) String() string {
	switch t {
	case NodeSource:
		return "source"
	case NodeAccounts:
		return "accounts"
	case NodeBooks:
		return "books"
	case NodeXRPBook:
		return "xrp-book"
	case NodeDestBook:
		return "dest-book"
	}
	return "destination"
}

// PathType is the ordered list of NodeTypes describing the shape of a path.
type PathType []NodeType

func (pt PathType) key() string {
	b := make([]byte, len(pt))
	for i, t := range pt {
		b[i] = "sabxfd"[t]
	}
	return string(b)
}

// PaymentType selects a table of path types by the source and destination
// currencies of a request.
type PaymentType int

const (
	XRPToXRP PaymentType = iota
	XRPToNonXRP
	NonXRPToXRP
	NonXRPToSame
	NonXRPToNonXRP
)

// paymentTypeFor classifies a request.
func paymentTypeFor(src, dst ledger.Currency) PaymentType {
	switch {
	case src.IsNative() && dst.IsNative():
		return XRPToXRP
	case src.IsNative():
		return XRPToNonXRP
	case dst.IsNative():
		return NonXRPToXRP
	case src == dst:
		return NonXRPToSame
	}
	return NonXRPToNonXRP
}

// Element is one node-type-tagged step of a path: an account, a currency and
// an issuer, not all of which are meaningful for every node type.
type Element struct {
	Type     NodeType        `json:"type"`
	Account  ledger.Account  `json:"account"`
	Currency ledger.Currency `json:"currency"`
	Issuer   ledger.Account  `json:"issuer"`
}

// equalPosition reports whether two elements occupy the same graph position;
// adjacent equal positions are forbidden in a path.
func (e Element) equalPosition(o Element) bool {
	return e.Account == o.Account && e.Currency == o.Currency && e.Issuer == o.Issuer
}

// isAccount reports whether the element is an account hop rather than a book.
func (e Element) isAccount() bool {
	switch e.Type {
	case NodeSource, NodeAccounts, NodeDestination:
		return true
	}
	return false
}

// Path is an ordered sequence of elements from source to destination. Paths
// are values; once added to the complete set they are never mutated.
type Path []Element

// MaxPathLength is the protocol bound on the number of elements in a path.
const MaxPathLength = 8

func (p Path) last() Element {
	return p[len(p)-1]
}

// extend returns a copy of the path with one more element.
func (p Path) extend(e Element) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, e)
}

// PathRank carries the ranking of one complete path.
type PathRank struct {
	// Quality is the fixed-point exchange rate of the path; lower is better.
	Quality uint64

	// Length is the number of elements.
	Length int

	// Liquidity is the amount the path was measured to deliver.
	Liquidity ledger.Amount

	// Index is the position of the path in the complete set, keeping the
	// sort stable.
	Index int
}

// Flags steering addLink's extension rule.
const (
	addAccounts = 0x001 // extend across trust lines
	addBooks    = 0x002 // extend across order books
	obXRP       = 0x010 // restrict book destinations to XRP
	obLast      = 0x040 // new element must reach the destination currency
	acLast      = 0x080 // new element must be the destination account
)
