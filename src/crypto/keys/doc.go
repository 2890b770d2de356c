// Package keys implements the public key cryptography used throughout rtxd.
//
// Every node owns a secp256k1 key-pair. The public key is the node's identity
// on the network; peers learn it from the Hello exchange, where it is used to
// verify a signature over the shared value derived from the TLS session. We
// use the secp256k1 curve because it is also used by Bitcoin and Ethereum, so
// existing tooling can manage node keys.
package keys
