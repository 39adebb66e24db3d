package overlay

import "errors"

var (
	// ErrProxyNotReady indicates an overlay operation attempted while the
	// fail-closed gate is shut. Never swallowed: callers surface it.
	ErrProxyNotReady = errors.New("proxy not ready")

	// ErrProxyBootstrapTimeout indicates the proxy did not reach 100%
	// bootstrap within the polling deadline.
	ErrProxyBootstrapTimeout = errors.New("proxy bootstrap timeout")

	// ErrRelayUnavailable indicates no relay session could be established.
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrInvalidEvent indicates an event that fails structural or
	// signature validation.
	ErrInvalidEvent = errors.New("invalid overlay event")
)
