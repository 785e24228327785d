package core

import (
	"errors"
	"fmt"
)

// Request-scoped errors. Each one is returned to the originating caller as a
// structured `{error: reason}` acknowledge and never crosses session
// boundaries.
var (
	ErrTransportNotFound        = errors.New("TransportNotFound")
	ErrIncompatibleCapabilities = errors.New("IncompatibleCapabilities")
	ErrNoEligibleSources        = errors.New("NoEligibleSources")
	ErrAlreadyRunning           = errors.New("AlreadyRunning")
	ErrSpawn                    = errors.New("SpawnError")
	ErrReadinessTimeout         = errors.New("ReadinessTimeout")
	ErrTerminated               = errors.New("Terminated")
)

// EngineError wraps a failure reported by the media engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("EngineError: %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func NewEngineError(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}

// Reason converts an error to the wire-level reason string sent back to the
// requester. Engine failures keep only their taxonomy name so internal
// details never leak to clients.
func Reason(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return "EngineError"
	}
	return err.Error()
}
