// Package station is the control server: it owns the one authoritative
// safety state, tracks operator sessions by heartbeat, and forces the
// robot safe when liveness is lost.
//
// All state lives behind a single mutex. The receive loop, the watchdog
// and the broadcast loop are separate goroutines, but every mutation
// serializes through that one lock, so a command apply and its status
// broadcast are atomic with respect to everything else.
package station
