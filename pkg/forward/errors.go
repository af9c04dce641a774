package forward

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/easzlab/ezfwd/pkg/availability"
)

// Error kinds reported by the Reconciler. Callers match them with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrPortConflict       = errors.New("port conflict")
	ErrNotFound           = errors.New("forwarding rule not found")
	ErrAdapterFailure     = errors.New("rule table operation failed")
	ErrVerificationFailed = errors.New("verification failed")
	ErrRemovalFailed      = errors.New("removal failed")
	ErrCompensationFailed = errors.New("compensation failed, mapping left absent")
)

// ConflictError reports a relay port already claimed by a listener or a rule.
type ConflictError struct {
	Port     uint16
	Conflict availability.PortConflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("relay port %d is %s", e.Port, e.Conflict)
}

func (e *ConflictError) Unwrap() error {
	return ErrPortConflict
}

// ParsePort parses a decimal TCP port in 1-65535.
func ParsePort(s string) (uint16, error) {
	value, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: port %q is not a number", ErrInvalidInput, s)
	}
	if value < 1 || value > availability.MaxPort {
		return 0, fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidInput, value)
	}
	return uint16(value), nil
}

func adapterFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrAdapterFailure, err)
}
