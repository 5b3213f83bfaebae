package engine

import "fmt"

// ValidationError indicates malformed or missing required input. It never
// reflects a state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidTransitionError indicates the action is not defined for the case's
// current status, including any action on a terminal status.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid case status transition %s -> %s", e.From, e.To)
}
