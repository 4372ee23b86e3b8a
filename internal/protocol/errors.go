package protocol

import "errors"

// Decode failures are distinct so the server can echo a specific
// diagnostic back in an ERROR reply.
var (
	ErrInvalidJSON    = errors.New("protocol: invalid json frame")
	ErrMissingType    = errors.New("protocol: missing message type")
	ErrUnknownType    = errors.New("protocol: unknown message type")
	ErrBadPayload     = errors.New("protocol: payload must be an object")
	ErrUnknownCommand = errors.New("protocol: unknown command")
)
