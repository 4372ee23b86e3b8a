// Package auth validates the optional HELLO shared secret.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator checks the secret a client presented in its HELLO.
type Validator interface {
	Validate(secret string) error
}

// SharedSecret accepts exactly one configured secret, compared in
// constant time. An empty configured secret accepts everything, which is
// how an unsecured field network runs.
type SharedSecret struct {
	Secret string
}

func (s SharedSecret) Validate(secret string) error {
	if s.Secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(s.Secret), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(secret string) error

func (f FuncValidator) Validate(secret string) error {
	return f(secret)
}
