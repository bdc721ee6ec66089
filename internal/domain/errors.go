package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a lookup misses.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed caller input: an incomplete rule tree,
// a missing campaign field, a past schedule time. It is surfaced
// immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidRuleError reports an unknown field or operator in a rule tree.
// This is a configuration error, not a transient fault; it is never retried.
type InvalidRuleError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule: field=%q operator=%q: %s", e.Field, e.Operator, e.Reason)
}

// TransientBrokerError reports a broker-level submission failure (connection
// refused, timeout) that applies to the whole batch. The dispatcher retries
// these with bounded backoff; exhaustion fails the campaign.
type TransientBrokerError struct {
	Err error
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("broker unavailable: %v", e.Err)
}

func (e *TransientBrokerError) Unwrap() error { return e.Err }

// RecipientDeliveryError reports a single recipient's send being rejected
// at submission time. It marks that recipient's delivery record Failed and
// never escalates to the campaign.
type RecipientDeliveryError struct {
	Reason string
}

func (e *RecipientDeliveryError) Error() string {
	return fmt.Sprintf("recipient rejected: %s", e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidRule reports whether err is an InvalidRuleError.
func IsInvalidRule(err error) bool {
	var re *InvalidRuleError
	return errors.As(err, &re)
}

// IsTransientBroker reports whether err is a TransientBrokerError.
func IsTransientBroker(err error) bool {
	var te *TransientBrokerError
	return errors.As(err, &te)
}
