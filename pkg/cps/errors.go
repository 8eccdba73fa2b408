package cps

import "errors"

var (
	// ErrInvalidPoolSize is returned when a round-robin pool is sized below one.
	ErrInvalidPoolSize = errors.New("cps: publisher pool size must be positive")
	// ErrPublisherClosed resolves results of publishes issued after Close.
	ErrPublisherClosed = errors.New("cps: publisher is closed")
)

// CredentialError reports that ambient credentials could not be located or loaded.
// A channel is never returned alongside it.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	if e == nil || e.Err == nil {
		return "cps: load default credentials"
	}
	return "cps: load default credentials: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
