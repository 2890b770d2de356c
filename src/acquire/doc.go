// Package acquire coordinates the retrieval of content-addressed ledger
// artifacts from an uncertain set of remote peers.
//
// The PeerSet is the timer-driven core: it keeps the set of peers believed to
// hold one artifact and drives periodic solicitation until the artifact is
// complete or declared failed. The variant behavior (inbound ledgers versus
// transaction sets) is injected as a Hooks strategy. A Registry routes
// incoming data messages to the owning acquirer by fingerprint.
package acquire
