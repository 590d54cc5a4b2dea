package engine

import (
	"errors"
	"fmt"
)

// ErrGenerationInFlight signals that another caller is already generating
// instances for the same (patient, date). It is a no-op marker, not a
// failure: the other caller's result will be persisted.
var ErrGenerationInFlight = errors.New("instance generation already in flight")

// InvalidTransitionError rejects a status change the lifecycle does not
// allow, including double completion.
type InvalidTransitionError struct {
	InstanceID string
	From       string
	To         string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid instance transition %s -> %s for %s", e.From, e.To, e.InstanceID)
}
