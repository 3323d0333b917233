package billing

import "errors"

// Structural failures: the event can never succeed no matter how often the
// provider redelivers it, so the delivery is acknowledged and the ledger
// entry marked rejected.
var (
	ErrMalformedEvent      = errors.New("malformed provider event")
	ErrUnknownUser         = errors.New("event references an unknown user")
	ErrUnknownSubscription = errors.New("event references an unknown subscription")
	ErrInvalidTransition   = errors.New("event implies an illegal subscription transition")
)

// ErrVersionConflict signals a lost optimistic-concurrency race. Transient:
// the provider's redelivery becomes the retry path.
var ErrVersionConflict = errors.New("subscription version conflict")

// IsStructural reports whether err can never be fixed by redelivering the
// same event.
func IsStructural(err error) bool {
	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrUnknownSubscription) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsTransient reports whether redelivery may succeed. Everything that is not
// structural counts, store and CA hiccups included; defaulting unknown
// failures to retryable is the safe direction under at-least-once delivery.
func IsTransient(err error) bool {
	return err != nil && !IsStructural(err)
}
