package config

import "errors"

var (
	// ErrConflictingBackends is returned when more than one of
	// {file, amqp, kafka} is configured for the same output channel
	// (spec §3 I4, §7).
	ErrConflictingBackends = errors.New("config: mutually exclusive output backends configured for one channel")

	// ErrInvalidIPPrec is returned when telemetry_ipprec falls outside 0-7.
	ErrInvalidIPPrec = errors.New("config: telemetry_ipprec must be in 0-7")
)
