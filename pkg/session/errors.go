package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a session already has a submission in flight.
	ErrBusy = errors.New("a research run is already in progress for this session")
	// ErrOutOfRange is returned for deep-mode parameters outside their bounds.
	ErrOutOfRange = errors.New("research parameter out of range")
)

// InvalidStateError reports an operation that is not allowed in the current
// research mode.
type InvalidStateError struct {
	Op   string
	Mode ResearchMode
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is not allowed in %s mode", e.Op, e.Mode)
}

// ConfigurationError blocks submission until the session is fixed.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}
