// Package remote implements the operator-side client of the station
// control protocol: registration handshake, periodic heartbeats, status
// consumption and command submission over a single UDP flow.
package remote
