package ledger

import (
	"fmt"
	"math"
	"math/big"
)

// Account identifies an account on the ledger. The value is the hex form of
// the account owner's public key.
type Account string

// NoAccount is the empty account, used where an issuer is absent.
const NoAccount Account = ""

// Currency is a three-letter currency code. XRP is the native currency; it
// has no issuer.
type Currency string

// XRP is the native currency code.
const XRP Currency = "XRP"

// IsNative reports whether the currency is the native one.
func (c Currency) IsNative() bool {
	return c == XRP
}

// Issue is a currency/issuer pair. Native issues have no issuer.
type Issue struct {
	Currency Currency `json:"currency"`
	Issuer   Account  `json:"issuer"`
}

// NativeIssue returns the native (XRP, no issuer) issue.
func NativeIssue() Issue {
	return Issue{Currency: XRP}
}

func (i Issue) String() string {
	if i.Currency.IsNative() {
		return string(XRP)
	}
	return fmt.Sprintf("%s/%s", i.Currency, i.Issuer)
}

// Amount is a quantity of an issue. Value is expressed in millionths of a
// unit, for native and issued currencies alike.
type Amount struct {
	Value    int64    `json:"value"`
	Currency Currency `json:"currency"`
	Issuer   Account  `json:"issuer"`
}

// NewAmount builds an Amount from a value in millionths.
func NewAmount(value int64, currency Currency, issuer Account) Amount {
	return Amount{Value: value, Currency: currency, Issuer: issuer}
}

// Issue returns the amount's currency/issuer pair.
func (a Amount) Issue() Issue {
	return Issue{Currency: a.Currency, Issuer: a.Issuer}
}

// IsNative reports whether the amount is in the native currency.
func (a Amount) IsNative() bool {
	return a.Currency.IsNative()
}

// IsZero reports whether the value is zero.
func (a Amount) IsZero() bool {
	return a.Value == 0
}

// IsPositive reports whether the value is strictly positive.
func (a Amount) IsPositive() bool {
	return a.Value > 0
}

// Sub returns a copy of the amount with b's value subtracted, floored at zero.
// The issue of the result is the issue of a.
func (a Amount) Sub(b Amount) Amount {
	v := a.Value - b.Value
	if v < 0 {
		v = 0
	}
	return Amount{Value: v, Currency: a.Currency, Issuer: a.Issuer}
}

// Min returns the smaller of a and b by value, keeping a's issue.
func (a Amount) Min(b Amount) Amount {
	if b.Value < a.Value {
		return Amount{Value: b.Value, Currency: a.Currency, Issuer: a.Issuer}
	}
	return a
}

func (a Amount) String() string {
	return fmt.Sprintf("%d/%s", a.Value, a.Issue())
}

// QualityOne is the fixed-point representation of a 1:1 exchange rate.
// Quality is input over output scaled by QualityOne; lower is better.
const QualityOne uint64 = 1000000000

// ComposeQuality chains two exchange rates.
func ComposeQuality(a, b uint64) uint64 {
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Div(prod, new(big.Int).SetUint64(QualityOne))
	if !prod.IsUint64() {
		return math.MaxUint64
	}
	return prod.Uint64()
}

// TrustLine is one account's view of a credit line toward a peer account.
type TrustLine struct {
	Peer     Account  `json:"peer"`
	Currency Currency `json:"currency"`
	Limit    int64    `json:"limit"`
	Balance  int64    `json:"balance"`
	NoRipple bool     `json:"no_ripple"`
}

// Book is an order book converting one issue into another. Quality is the
// aggregate rate at the tip of the book; Liquidity is how much of TakerGets
// the book can deliver.
type Book struct {
	TakerPays Issue  `json:"taker_pays"`
	TakerGets Issue  `json:"taker_gets"`
	Quality   uint64 `json:"quality"`
	Liquidity Amount `json:"liquidity"`
}
