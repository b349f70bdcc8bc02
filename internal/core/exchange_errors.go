package core

import "errors"

var (
	// ErrInvalidCredential indicates a credential is incomplete or bound to an unknown exchange.
	// It is raised before any request leaves the process.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrRateLimited indicates the exchange (or the local limiter) refused the call due to request frequency.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound indicates no stored credential matched the lookup.
	ErrNotFound = errors.New("credential not found")
	// ErrKeyDisabled indicates the stored credential exists but was switched off by its owner.
	ErrKeyDisabled = errors.New("api key disabled")
	// ErrUnknownExchange indicates an exchange identifier outside the supported set.
	ErrUnknownExchange = errors.New("unknown exchange")
)
