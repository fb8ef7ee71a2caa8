package telemetry

import "errors"

// Fatal initialization errors (spec §7): logged at ERROR and turned into
// process exit code 1 by cmd/telemetryd.
var (
	ErrBindFailed          = errors.New("telemetry: bind failed")
	ErrListenFailed        = errors.New("telemetry: listen failed")
	ErrSocketFailed        = errors.New("telemetry: socket creation failed")
	ErrConflictingBackends = errors.New("telemetry: mutually exclusive output backends configured for the same channel")
	ErrInvalidAddress      = errors.New("telemetry: invalid bind address")
)

// ErrTableFull is returned (not fatal) when the peer table has no free slot.
// Reactor treats this as a close-immediately condition, never as a fatal
// error.
var ErrTableFull = errors.New("telemetry: peer table full")
