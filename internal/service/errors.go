package service

import (
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/metrics"
)

var (
	// ErrCapacityExceeded: a slot-consuming write found every slot taken.
	ErrCapacityExceeded = errors.New("vendor capacity reached")
	// ErrDuplicateEmail: a vendor account already uses the email.
	ErrDuplicateEmail = errors.New("a vendor with this email already exists")
	// ErrDuplicateApplicant: the email already has a WAITING or NOTIFIED entry.
	ErrDuplicateApplicant = errors.New("email is already on the waitlist")
	// ErrSlotAvailable: waitlist signup refused because direct registration is open.
	ErrSlotAvailable = errors.New("a slot is available, register directly")
	// ErrNotFound: unknown vendor, category or waitlist entry.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatusTransition: the entry's current status does not allow the change.
	ErrInvalidStatusTransition = errors.New("invalid waitlist status transition")
	// ErrNoSlotAvailable: promotion attempted while every slot is taken.
	ErrNoSlotAvailable = errors.New("no slot available for promotion")
	// ErrNoEligibleEntry: nothing is WAITING (in the requested category).
	ErrNoEligibleEntry = errors.New("no eligible waitlist entry")
	// ErrNotificationDeliveryFailed: the claim message could not be sent and the
	// promotion was rolled back.
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// outcome maps an operation result to a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrCapacityExceeded):
		return metrics.OutcomeCapacityExceeded
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrDuplicateApplicant):
		return metrics.OutcomeDuplicate
	case errors.Is(err, ErrSlotAvailable):
		return metrics.OutcomeSlotAvailable
	case errors.Is(err, ErrNoSlotAvailable):
		return metrics.OutcomeNoSlot
	case errors.Is(err, ErrNoEligibleEntry):
		return metrics.OutcomeNoEligible
	case errors.Is(err, ErrInvalidStatusTransition):
		return metrics.OutcomeInvalidTransition
	case errors.Is(err, ErrNotificationDeliveryFailed):
		return metrics.OutcomeNotificationFailed
	default:
		return metrics.OutcomeError
	}
}
