// Package protocol defines the control-plane wire format shared by the
// station server and the driver clients.
//
// Every message is one UTF-8 JSON object per UDP datagram:
//
//	{"type": "<MessageKind>", "payload": {...}}
//
// The encoding is self-describing and versionless; readers ignore payload
// fields they do not know. The package is a pure transform with no I/O.
package protocol
