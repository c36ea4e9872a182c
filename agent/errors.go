package agent

import "fmt"

// ValidationError reports a request the loop refused to start: a
// non-positive MaxIterations or an empty history, checked before a single
// provider call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// IterationLimitError reports that Config.MaxIterations rounds of
// reason/tool-execute elapsed without the model producing a final answer.
type IterationLimitError struct {
	MaxIterations int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("iteration limit reached: %d rounds without a final answer", e.MaxIterations)
}
