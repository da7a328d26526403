package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// SubscriberStatus enumerates the states a subscription can be in.
// Only confirmed subscriptions receive newsletter issues.
type SubscriberStatus string

const (
	SubscriberConfirmed SubscriberStatus = "confirmed"
	SubscriberPending   SubscriberStatus = "pending_confirmation"
)

// ErrInvalidSubscriberEmail marks a stored address that no longer parses.
// It is a data-integrity problem: retrying will never fix it.
var ErrInvalidSubscriberEmail = errors.New("invalid subscriber email")

var validate = validator.New()

// SubscriberEmail is an address that passed validation.
type SubscriberEmail string

// ParseSubscriberEmail validates s as an email address.
func ParseSubscriberEmail(s string) (SubscriberEmail, error) {
	if err := validate.Var(s, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubscriberEmail, s)
	}
	return SubscriberEmail(s), nil
}

func (e SubscriberEmail) String() string { return string(e) }

// ConfirmedSubscriber is one entry of the confirmed set. Raw is the stored
// value; Err is set when Raw does not parse, in which case Email is empty.
type ConfirmedSubscriber struct {
	Email SubscriberEmail
	Raw   string
	Err   error
}

// Valid reports whether the entry carries a usable address.
func (c ConfirmedSubscriber) Valid() bool { return c.Err == nil }
