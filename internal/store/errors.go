package store

import "fmt"

// ImmutabilityViolation is returned when a write attempts to mutate a Task
// whose status is already terminal (spec invariant I2).
type ImmutabilityViolation struct {
	TaskID string
	Status TaskStatus
}

func (e *ImmutabilityViolation) Error() string {
	return fmt.Sprintf("task %s is terminal (%s) and read-only", e.TaskID, e.Status)
}

// StatusConflict is returned when a compare-and-set transition's expected
// prior status does not match what is stored (spec §4.3).
type StatusConflict struct {
	TaskID   string
	Expected TaskStatus
	Actual   TaskStatus
}

func (e *StatusConflict) Error() string {
	return fmt.Sprintf("task %s: expected status %s, found %s", e.TaskID, e.Expected, e.Actual)
}

// ErrNotFound is returned by lookups that find no matching row.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
