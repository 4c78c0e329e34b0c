package service

import (
	"fmt"

	"github.com/google/uuid"
)

// EngineNotExistError reports a mutation or control action against an
// engine id that has no row.
type EngineNotExistError struct {
	ID uuid.UUID
}

func (e *EngineNotExistError) Error() string {
	return fmt.Sprintf("engine %s does not exist", e.ID)
}

// EngineDeadError reports a restart attempt against a DEAD engine.
type EngineDeadError struct {
	ID uuid.UUID
}

func (e *EngineDeadError) Error() string {
	return fmt.Sprintf("cannot restart engine %s: engine is DEAD", e.ID)
}

// UnhandledEventTypeError reports outbox records the relay has no fan-out
// routing for. It terminates the iteration after successful records are
// marked, so operators learn about the gap instead of it being skipped.
type UnhandledEventTypeError struct {
	Types []string
}

func (e *UnhandledEventTypeError) Error() string {
	return fmt.Sprintf("no fan-out routing for event types %v", e.Types)
}
