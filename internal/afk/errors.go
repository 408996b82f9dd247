package afk

import "errors"

// Typed error kinds surfaced to callers and, via Manager's error dedup,
// to the control plane as error/error_cleared events.
var (
	ErrAuthInvalid   = errors.New("afk: chat transport rejected the configured token")
	ErrUnreachable   = errors.New("afk: chat transport unreachable")
	ErrPollError     = errors.New("afk: chat poll iteration failed")
	ErrStaleCallback = errors.New("afk: button press has no matching active request")
	ErrInjectFailed  = errors.New("afk: terminal injection failed")
	ErrFlush         = errors.New("afk: request flushed during deactivation")
)
