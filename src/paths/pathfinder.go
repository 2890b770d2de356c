package paths

import (
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/ledger"
	"github.com/rtxnet/rtxd/src/metrics"
)

// ErrNoLedger is the only hard pathfinding failure: there is no ledger
// snapshot to search.
var ErrNoLedger = errors.New("paths: no ledger")

// Calc computes the exchange output of a path. The pathfinder enumerates
// candidates; the calculator decides what they are worth.
type Calc interface {
	// Direct returns the amount deliverable without any path, and its
	// quality, or an error when no direct delivery is possible.
	Direct(src, dst ledger.Account, dstAmount ledger.Amount) (ledger.Amount, uint64, error)

	// Liquidity returns the deliverable amount and initial quality of a
	// path, or an error when the path cannot deliver at least minDst.
	Liquidity(path Path, minDst, dstAmount ledger.Amount) (ledger.Amount, uint64, error)
}

type pathsOutKey struct {
	currency ledger.Currency
	account  ledger.Account
}

// Pathfinder enumerates and ranks payment paths for one request against one
// ledger snapshot. It is not safe for concurrent use.
type Pathfinder struct {
	view   ledger.View
	calc   Calc
	logger *logrus.Entry

	srcAccount  ledger.Account
	dstAccount  ledger.Account
	srcCurrency ledger.Currency
	srcIssuer   ledger.Account
	dstAmount   ledger.Amount

	source Element

	// remaining is what is left of dstAmount after the direct path's
	// liquidity has been removed.
	remaining ledger.Amount

	complete []Path
	seen     map[string]bool
	ranks    []PathRank
	byType   map[string][]Path
	pathsOut map[pathsOutKey]int
}

// NewPathfinder prepares a search. srcIssuer may be empty when the source
// currency needs no issuer.
func NewPathfinder(view ledger.View, calc Calc, src, dst ledger.Account,
	srcCurrency ledger.Currency, srcIssuer ledger.Account,
	dstAmount ledger.Amount, logger *logrus.Entry) (*Pathfinder, error) {

	if view == nil || !view.Exists() {
		return nil, ErrNoLedger
	}

	sourceIssuer := srcIssuer
	if srcCurrency.IsNative() {
		sourceIssuer = ledger.NoAccount
	} else if sourceIssuer == ledger.NoAccount {
		sourceIssuer = src
	}

	return &Pathfinder{
		view:        view,
		calc:        calc,
		logger:      logger.WithField("prefix", "pathfinder"),
		srcAccount:  src,
		dstAccount:  dst,
		srcCurrency: srcCurrency,
		srcIssuer:   srcIssuer,
		dstAmount:   dstAmount,
		remaining:   dstAmount,
		source: Element{
			Type:     NodeSource,
			Account:  src,
			Currency: srcCurrency,
			Issuer:   sourceIssuer,
		},
		seen:     make(map[string]bool),
		byType:   make(map[string][]Path),
		pathsOut: make(map[pathsOutKey]int),
	}, nil
}

// FindPaths expands every path shape listed for the request's payment type up
// to the given search level. It reports whether any complete path was found.
func (pf *Pathfinder) FindPaths(level int) bool {
	metrics.PathfinderSearches.Inc()

	if !pf.view.AccountExists(pf.srcAccount) || !pf.view.AccountExists(pf.dstAccount) {
		return false
	}

	paymentType := paymentTypeFor(pf.srcCurrency, pf.dstAmount.Currency)
	for _, shape := range tableFor(paymentType, level) {
		pf.addPathsForType(shape)
	}

	pf.logger.WithFields(logrus.Fields{
		"level": level,
		"found": len(pf.complete),
	}).Debug("FindPaths")

	return len(pf.complete) > 0
}

// CompletePaths returns the paths found so far.
func (pf *Pathfinder) CompletePaths() []Path {
	return pf.complete
}

// addPathsForType builds all partial paths of one shape, reusing the partial
// paths of the shape's prefix. Completed paths land in the complete set.
func (pf *Pathfinder) addPathsForType(shape PathType) []Path {
	key := shape.key()
	if out, ok := pf.byType[key]; ok {
		return out
	}
	if len(shape) == 0 {
		pf.byType[key] = nil
		return nil
	}

	parents := pf.addPathsForType(shape[:len(shape)-1])

	var out []Path
	switch shape[len(shape)-1] {
	case NodeSource:
		// Source is always the first node of a shape.
		out = []Path{{pf.source}}

	case NodeAccounts:
		pf.addLinks(parents, &out, addAccounts)

	case NodeBooks:
		pf.addLinks(parents, &out, addBooks)

	case NodeXRPBook:
		pf.addLinks(parents, &out, addBooks|obXRP)

	case NodeDestBook:
		pf.addLinks(parents, &out, addBooks|obLast)

	case NodeDestination:
		pf.addLinks(parents, &out, addAccounts|acLast)
		for _, p := range out {
			pf.addComplete(p)
		}
	}

	pf.byType[key] = out
	return out
}

func (pf *Pathfinder) addComplete(p Path) {
	if pf.isNoRippleOut(p) {
		return
	}
	key := pathKey(p)
	if pf.seen[key] {
		return
	}
	pf.seen[key] = true
	pf.complete = append(pf.complete, p)
}

func pathKey(p Path) string {
	key := ""
	for _, e := range p {
		key += string(e.Account) + "|" + string(e.Currency) + "|" + string(e.Issuer) + ";"
	}
	return key
}

// addLinks calls addLink for each partial path.
func (pf *Pathfinder) addLinks(paths []Path, out *[]Path, flags int) {
	for _, p := range paths {
		pf.addLink(p, out, flags)
	}
}

// addLink extends one partial path by one element, according to flags.
func (pf *Pathfinder) addLink(p Path, out *[]Path, flags int) {
	if len(p) == 0 || len(p) >= MaxPathLength {
		return
	}

	if flags&addAccounts != 0 {
		if flags&acLast != 0 {
			pf.addDestination(p, out)
		} else {
			pf.addAccountLinks(p, out)
		}
	}

	if flags&addBooks != 0 {
		pf.addBookLinks(p, out, flags)
	}
}

// addAccountLinks extends across the trust lines of the path's current
// position. Native positions ripple through no one.
func (pf *Pathfinder) addAccountLinks(p Path, out *[]Path) {
	last := p.last()
	if last.Currency.IsNative() {
		return
	}

	from := last.Account
	for _, line := range pf.view.LinesOut(from) {
		if line.Currency != last.Currency {
			continue
		}
		peer := line.Peer
		if peer == from {
			continue
		}
		// A line the holder marked no-ripple cannot transit.
		if pf.view.IsNoRipple(from, peer, last.Currency) {
			continue
		}

		candidate := Element{
			Type:     NodeAccounts,
			Account:  peer,
			Currency: last.Currency,
			Issuer:   peer,
		}
		if candidate.equalPosition(last) {
			continue
		}

		// Prune dead ends: an account with no way out is only worth
		// visiting when it is the destination.
		if peer != pf.dstAccount &&
			pf.getPathsOut(last.Currency, peer, last.Currency == pf.dstAmount.Currency, pf.dstAccount) == 0 {
			continue
		}

		*out = append(*out, p.extend(candidate))
	}
}

// addDestination appends the destination account when it is reachable from
// the path's current position.
func (pf *Pathfinder) addDestination(p Path, out *[]Path) {
	last := p.last()

	if last.Currency != pf.dstAmount.Currency {
		return
	}
	if last.Account == pf.dstAccount && last.Type != NodeSource {
		return
	}
	if !pf.destReachableFrom(last) {
		return
	}

	candidate := Element{
		Type:     NodeDestination,
		Account:  pf.dstAccount,
		Currency: pf.dstAmount.Currency,
		Issuer:   pf.dstAmount.Issuer,
	}
	if candidate.equalPosition(last) {
		return
	}

	*out = append(*out, p.extend(candidate))
}

func (pf *Pathfinder) destReachableFrom(last Element) bool {
	if last.Currency.IsNative() {
		return true
	}

	issuer := pf.dstAmount.Issuer
	if issuer != ledger.NoAccount &&
		issuer != last.Account && issuer != last.Issuer && issuer != pf.dstAccount {
		return false
	}

	if last.Account == pf.dstAccount {
		return true
	}
	return pf.trustExists(pf.dstAccount, last.Account, last.Currency)
}

// trustExists checks for a line between two accounts in either direction.
func (pf *Pathfinder) trustExists(a, b ledger.Account, c ledger.Currency) bool {
	for _, line := range pf.view.LinesOut(a) {
		if line.Peer == b && line.Currency == c {
			return true
		}
	}
	for _, line := range pf.view.LinesOut(b) {
		if line.Peer == a && line.Currency == c {
			return true
		}
	}
	return false
}

// addBookLinks extends across the order books selling the path's current
// issue.
func (pf *Pathfinder) addBookLinks(p Path, out *[]Path, flags int) {
	last := p.last()

	pays := ledger.Issue{Currency: last.Currency, Issuer: last.Issuer}
	if last.Currency.IsNative() {
		pays = ledger.NativeIssue()
	}

	elementType := NodeBooks
	if flags&obXRP != 0 {
		elementType = NodeXRPBook
	} else if flags&obLast != 0 {
		elementType = NodeDestBook
	}

	for _, book := range pf.view.BooksFrom(pays) {
		gets := book.TakerGets

		if flags&obXRP != 0 && !gets.Currency.IsNative() {
			continue
		}
		if flags&obLast != 0 {
			if gets.Currency != pf.dstAmount.Currency {
				continue
			}
			if pf.dstAmount.Issuer != ledger.NoAccount && !gets.Currency.IsNative() &&
				gets.Issuer != pf.dstAmount.Issuer {
				continue
			}
		}

		candidate := Element{
			Type:     elementType,
			Account:  gets.Issuer,
			Currency: gets.Currency,
			Issuer:   gets.Issuer,
		}
		if candidate.equalPosition(last) {
			continue
		}

		*out = append(*out, p.extend(candidate))
	}
}

// getPathsOut counts the fan-out at an account for a currency. Results are
// cached per (currency, account).
func (pf *Pathfinder) getPathsOut(currency ledger.Currency, account ledger.Account,
	isDestCurrency bool, dest ledger.Account) int {

	key := pathsOutKey{currency: currency, account: account}
	if n, ok := pf.pathsOut[key]; ok {
		return n
	}

	n := 0
	if account == dest {
		n++
	}
	for _, line := range pf.view.LinesOut(account) {
		if line.Currency != currency || line.NoRipple {
			continue
		}
		n++
	}
	n += len(pf.view.BooksFrom(ledger.Issue{Currency: currency, Issuer: account}))

	pf.pathsOut[key] = n
	return n
}

// isNoRippleOut reports whether the path ends on an account-to-account link
// whose final account has set the no-ripple flag toward the previous one.
func (pf *Pathfinder) isNoRippleOut(p Path) bool {
	if len(p) < 2 {
		return false
	}
	last := p[len(p)-1]
	prev := p[len(p)-2]
	if !last.isAccount() || !prev.isAccount() {
		return false
	}
	if last.Currency.IsNative() {
		return false
	}
	return pf.view.IsNoRipple(last.Account, prev.Account, last.Currency)
}

//------------------------------------------------------------------------------

// ComputePathRanks measures the liquidity of the complete paths and sorts
// them. The direct path's contribution is removed from the target first.
func (pf *Pathfinder) ComputePathRanks(maxPaths int) {
	pf.remaining = pf.dstAmount

	if direct, _, err := pf.calc.Direct(pf.srcAccount, pf.dstAccount, pf.dstAmount); err == nil {
		pf.remaining = pf.dstAmount.Sub(direct)
	}

	_ = maxPaths // the cap is applied when the best paths are taken
	pf.rankPaths(pf.complete)
}

func (pf *Pathfinder) rankPaths(paths []Path) {
	pf.ranks = pf.ranks[:0]

	minDst := pf.remaining
	if minDst.IsZero() {
		minDst = pf.dstAmount
	}

	for i, p := range paths {
		amount, quality, err := pf.calc.Liquidity(p, minDst, pf.dstAmount)
		if err != nil {
			continue
		}
		pf.ranks = append(pf.ranks, PathRank{
			Quality:   quality,
			Length:    len(p),
			Liquidity: amount,
			Index:     i,
		})
	}

	sort.SliceStable(pf.ranks, func(i, j int) bool {
		a, b := pf.ranks[i], pf.ranks[j]
		if a.Quality != b.Quality {
			return a.Quality < b.Quality
		}
		if a.Length != b.Length {
			return a.Length < b.Length
		}
		if a.Liquidity.Value != b.Liquidity.Value {
			return a.Liquidity.Value > b.Liquidity.Value
		}
		return a.Index < b.Index
	})
}

// PathRanks returns the ranking computed by ComputePathRanks.
func (pf *Pathfinder) PathRanks() []PathRank {
	return pf.ranks
}

// GetBestPaths returns the top maxPaths by rank. When a single path outside
// the top could alone satisfy the remaining amount, it is returned as
// fullLiquidity. Every non-top ranked path comes back in extras, including
// the one returned as fullLiquidity.
func (pf *Pathfinder) GetBestPaths(maxPaths int, srcIssuer ledger.Account) (best []Path, fullLiquidity Path, extras []Path) {
	if len(pf.complete) == 0 {
		return nil, nil, nil
	}

	var overflow []PathRank
	for _, r := range pf.ranks {
		p := pf.complete[r.Index]
		if !pf.issuerUsable(p, srcIssuer) {
			continue
		}
		if len(best) < maxPaths {
			best = append(best, p)
		} else {
			overflow = append(overflow, r)
		}
	}

	for _, r := range overflow {
		p := pf.complete[r.Index]
		extras = append(extras, p)
		if fullLiquidity == nil && pf.remaining.IsPositive() &&
			r.Liquidity.Value >= pf.remaining.Value {
			fullLiquidity = p
		}
	}

	return best, fullLiquidity, extras
}

// issuerUsable filters paths inconsistent with an explicit source issuer: the
// first hop must involve that issuer.
func (pf *Pathfinder) issuerUsable(p Path, srcIssuer ledger.Account) bool {
	if srcIssuer == ledger.NoAccount || pf.srcCurrency.IsNative() || len(p) < 2 {
		return true
	}
	if srcIssuer == pf.srcAccount {
		return true
	}
	hop := p[1]
	return hop.Account == srcIssuer || hop.Issuer == srcIssuer
}
