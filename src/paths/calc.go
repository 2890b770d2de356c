package paths

import (
	"errors"
	"math"

	"github.com/rtxnet/rtxd/src/ledger"
)

// ErrNoLiquidity means a path (or the direct route) cannot deliver enough to
// be worth keeping.
var ErrNoLiquidity = errors.New("paths: no liquidity")

// SnapshotCalc is a quality calculator over a ledger view. It measures path
// capacity as the tightest trust-line limit or book depth along the path, and
// path quality as the composition of the crossed books' rates. A production
// node substitutes its full payment engine here.
type SnapshotCalc struct {
	view ledger.View
}

// NewSnapshotCalc builds a calculator over a view.
func NewSnapshotCalc(view ledger.View) *SnapshotCalc {
	return &SnapshotCalc{view: view}
}

// Direct implements Calc. Native amounts deliver directly; an issued amount
// delivers directly only when the source is its issuer and the destination
// trusts the issuer.
func (c *SnapshotCalc) Direct(src, dst ledger.Account, dstAmount ledger.Amount) (ledger.Amount, uint64, error) {
	if dstAmount.IsNative() {
		return dstAmount, ledger.QualityOne, nil
	}

	if src != dstAmount.Issuer {
		return ledger.Amount{}, 0, ErrNoLiquidity
	}

	for _, line := range c.view.LinesOut(dst) {
		if line.Peer != src || line.Currency != dstAmount.Currency {
			continue
		}
		amount := dstAmount
		if line.Limit < amount.Value {
			amount.Value = line.Limit
		}
		if amount.Value <= 0 {
			break
		}
		return amount, ledger.QualityOne, nil
	}

	return ledger.Amount{}, 0, ErrNoLiquidity
}

// Liquidity implements Calc.
func (c *SnapshotCalc) Liquidity(path Path, minDst, dstAmount ledger.Amount) (ledger.Amount, uint64, error) {
	if len(path) < 2 {
		return ledger.Amount{}, 0, ErrNoLiquidity
	}

	quality := ledger.QualityOne
	capacity := int64(math.MaxInt64)

	for i := 1; i < len(path); i++ {
		prev, e := path[i-1], path[i]

		if e.isAccount() {
			if e.Currency.IsNative() {
				continue
			}
			limit := c.trustLimit(prev.Account, e.Account, e.Currency)
			if limit <= 0 {
				return ledger.Amount{}, 0, ErrNoLiquidity
			}
			if limit < capacity {
				capacity = limit
			}
			continue
		}

		pays := ledger.Issue{Currency: prev.Currency, Issuer: prev.Issuer}
		if prev.Currency.IsNative() {
			pays = ledger.NativeIssue()
		}
		book := c.findBook(pays, ledger.Issue{Currency: e.Currency, Issuer: e.Issuer})
		if book == nil {
			return ledger.Amount{}, 0, ErrNoLiquidity
		}
		quality = ledger.ComposeQuality(quality, book.Quality)
		if book.Liquidity.Value < capacity {
			capacity = book.Liquidity.Value
		}
	}

	out := dstAmount
	if capacity < out.Value {
		out.Value = capacity
	}
	if out.Value <= 0 || out.Value < minDst.Value {
		return ledger.Amount{}, 0, ErrNoLiquidity
	}
	return out, quality, nil
}

// trustLimit finds the limit of a line between two accounts, looking from
// both sides.
func (c *SnapshotCalc) trustLimit(a, b ledger.Account, cur ledger.Currency) int64 {
	for _, line := range c.view.LinesOut(a) {
		if line.Peer == b && line.Currency == cur {
			return line.Limit
		}
	}
	for _, line := range c.view.LinesOut(b) {
		if line.Peer == a && line.Currency == cur {
			return line.Limit
		}
	}
	return 0
}

// findBook locates a book converting pays into gets.
func (c *SnapshotCalc) findBook(pays, gets ledger.Issue) *ledger.Book {
	for _, book := range c.view.BooksFrom(pays) {
		if book.TakerGets == gets {
			b := book
			return &b
		}
	}
	return nil
}
