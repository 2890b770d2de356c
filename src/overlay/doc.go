// Package overlay manages rtxd's peer-to-peer connections.
//
// The two central pieces are the Finder, which accounts for connection slots
// and peer addresses, and the ConnectAttempt, a timer-guarded state machine
// that upgrades a raw outbound TCP socket into an authenticated Peer session.
// Established sessions are registered with the Overlay, which routes ledger
// data to whoever asked for it and broadcasts requests on behalf of the
// acquisition coordinators.
package overlay
