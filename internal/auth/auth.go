// Package auth validates the token carried in a frame's auth section.
//
// It makes no policy decisions and stores nothing.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator checks the auth bytes of an inbound frame.
type Validator interface {
	Validate(token []byte) error
}

// StaticToken accepts frames carrying exactly one shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token []byte) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), token) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token []byte) error

func (f FuncValidator) Validate(token []byte) error {
	return f(token)
}
