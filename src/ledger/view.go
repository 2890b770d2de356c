package ledger

// View is a read-only snapshot of the trust-line and order-book topology of a
// closed ledger. Implementations must be safe for concurrent readers.
type View interface {
	// Exists reports whether the view is backed by a ledger at all. All other
	// methods may only be called when Exists is true.
	Exists() bool

	// AccountExists reports whether the account is funded on the ledger.
	AccountExists(a Account) bool

	// LinesOut returns the trust lines held by an account.
	LinesOut(a Account) []TrustLine

	// BooksFrom returns the order books whose TakerPays side matches the
	// given issue.
	BooksFrom(i Issue) []Book

	// IsNoRipple reports whether `from` has set the no-ripple flag on its
	// line toward `to` for the given currency, forbidding the line from
	// acting as a transit link.
	IsNoRipple(from, to Account, c Currency) bool
}
