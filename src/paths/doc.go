// Package paths implements payment pathfinding over a ledger snapshot.
//
// The Pathfinder performs a typed, bounded breadth-first expansion over the
// ledger graph of accounts, trust lines and order books, enumerating
// candidate payment paths, then ranks the survivors by realizable liquidity
// and quality. The shapes it will try are fixed by a static table keyed by
// payment type, built once at package initialization.
package paths
