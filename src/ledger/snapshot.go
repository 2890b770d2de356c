package ledger

import (
	"fmt"
	"sync"
)

// Snapshot is an in-memory View with builder methods. It serves tests and the
// bundled quality calculator; a production node would back View with its
// ledger store instead.
type Snapshot struct {
	mu       sync.RWMutex
	accounts map[Account]bool
	lines    map[Account][]TrustLine
	books    map[Issue][]Book
	noRipple map[string]bool
}

// NewSnapshot creates an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		accounts: make(map[Account]bool),
		lines:    make(map[Account][]TrustLine),
		books:    make(map[Issue][]Book),
		noRipple: make(map[string]bool),
	}
}

// AddAccount funds an account on the snapshot.
func (s *Snapshot) AddAccount(a Account) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a] = true
	return s
}

// AddLine records a trust line from one account toward another. Both accounts
// are funded as a side effect. The noRipple flag belongs to `from`.
func (s *Snapshot) AddLine(from, to Account, c Currency, limit int64, noRipple bool) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[from] = true
	s.accounts[to] = true

	s.lines[from] = append(s.lines[from], TrustLine{
		Peer:     to,
		Currency: c,
		Limit:    limit,
		NoRipple: noRipple,
	})
	if noRipple {
		s.noRipple[noRippleKey(from, to, c)] = true
	}
	return s
}

// AddBook records an order book converting pays into gets.
func (s *Snapshot) AddBook(pays, gets Issue, quality uint64, liquidity int64) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.books[pays] = append(s.books[pays], Book{
		TakerPays: pays,
		TakerGets: gets,
		Quality:   quality,
		Liquidity: Amount{Value: liquidity, Currency: gets.Currency, Issuer: gets.Issuer},
	})
	return s
}

// Exists implements View. A Snapshot always exists.
func (s *Snapshot) Exists() bool {
	return s != nil
}

// AccountExists implements View.
func (s *Snapshot) AccountExists(a Account) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[a]
}

// LinesOut implements View.
func (s *Snapshot) LinesOut(a Account) []TrustLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TrustLine(nil), s.lines[a]...)
}

// BooksFrom implements View.
func (s *Snapshot) BooksFrom(i Issue) []Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Book(nil), s.books[i]...)
}

// IsNoRipple implements View.
func (s *Snapshot) IsNoRipple(from, to Account, c Currency) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.noRipple[noRippleKey(from, to, c)]
}

func noRippleKey(from, to Account, c Currency) string {
	return fmt.Sprintf("%s|%s|%s", from, to, c)
}
