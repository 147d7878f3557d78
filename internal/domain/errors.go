package domain

import "errors"

var (
	ErrNoProvidersConfigured = errors.New("no providers configured")
	ErrProviderNotFound      = errors.New("provider not found")
	ErrBreakerNotFound       = errors.New("circuit breaker not found")
	ErrInvalidStrategy       = errors.New("invalid routing strategy")
	ErrCallFailed            = errors.New("call failed after retries")
	ErrProviderError         = errors.New("provider error")
)
