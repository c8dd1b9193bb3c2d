package engine

import "fmt"

// ValidationError rejects a run request synchronously, before any run row is
// persisted.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// ErrRunInFlight guards against re-entrant execution of the same run id.
type ErrRunInFlight struct {
	RunID string
}

func (e *ErrRunInFlight) Error() string {
	return "run already executing: " + e.RunID
}
