// Package apperr defines the error kinds shared by the domain packages and the
// transport adapters.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindRateLimited         Kind = "rate_limited"
	KindValidation          Kind = "validation"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

// Error reasons.
const (
	ReasonAlreadyPaired       = "ALREADY_PAIRED"
	ReasonCoupleFull          = "COUPLE_FULL"
	ReasonSelfRedeem          = "SELF_REDEEM"
	ReasonActiveSessionExists = "ACTIVE_SESSION_EXISTS"
	ReasonAlreadyGenerated    = "ALREADY_GENERATED_TODAY"
	ReasonEmailTaken          = "EMAIL_TAKEN"
	ReasonPremiumRequired     = "PREMIUM_REQUIRED"
)

// Error carries a kind, an optional machine-readable reason and, for conflicts,
// the entity the caller collided with.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Entity  any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error    { return New(KindForbidden, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Validation(message string) *Error   { return New(KindValidation, message) }

// PremiumRequired is the forbidden error of premium-only features.
func PremiumRequired(message string) *Error {
	return &Error{Kind: KindForbidden, Reason: ReasonPremiumRequired, Message: message}
}

func RateLimited(reason, message string) *Error {
	return &Error{Kind: KindRateLimited, Reason: reason, Message: message}
}

// Conflict builds a conflict error carrying the entity that caused it.
func Conflict(reason, message string, entity any) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message, Entity: entity}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf returns the reason of the first *Error in the chain.
func ReasonOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

// EntityOf returns the entity attached to a conflict, if any.
func EntityOf(err error) any {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Entity
	}
	return nil
}
