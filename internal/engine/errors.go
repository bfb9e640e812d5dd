package engine

import (
	"errors"
	"fmt"
)

// CycleError represents a failure of one pipeline step for one user.
//
// Cycle errors include:
//   - Fetch: the calendar source failed; the user's cycle is skipped
//   - Store: a snapshot read or delta write failed; the batch is dropped
//   - Delivery: a notification could not be sent; state is kept
//   - Credential: the credential store could not be read
type CycleError struct {
	// Code identifies the error category.
	Code ErrorCode

	// UserID identifies the affected user.
	UserID string

	// CycleToken correlates the error with the cycle's log lines.
	CycleToken string

	// EventID is set for delivery errors.
	EventID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes cycle errors.
type ErrorCode string

const (
	ErrCodeFetch      ErrorCode = "FETCH_FAILED"
	ErrCodeStore      ErrorCode = "STORE_FAILED"
	ErrCodeDelivery   ErrorCode = "DELIVERY_FAILED"
	ErrCodeCredential ErrorCode = "CREDENTIAL_FAILED"
)

// Error implements the error interface.
func (e *CycleError) Error() string {
	switch {
	case e.EventID != "":
		return fmt.Sprintf("%s: user=%s event=%s: %v", e.Code, e.UserID, e.EventID, e.Err)
	case e.CycleToken != "":
		return fmt.Sprintf("%s: user=%s cycle=%s: %v", e.Code, e.UserID, e.CycleToken, e.Err)
	default:
		return fmt.Sprintf("%s: user=%s: %v", e.Code, e.UserID, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *CycleError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps a calendar source failure.
func NewFetchError(userID, cycle string, err error) *CycleError {
	return &CycleError{Code: ErrCodeFetch, UserID: userID, CycleToken: cycle, Err: err}
}

// NewStoreError wraps a state store failure.
func NewStoreError(userID, cycle string, err error) *CycleError {
	return &CycleError{Code: ErrCodeStore, UserID: userID, CycleToken: cycle, Err: err}
}

// NewDeliveryError wraps a notifier failure for one event.
func NewDeliveryError(userID, cycle, eventID string, err error) *CycleError {
	return &CycleError{Code: ErrCodeDelivery, UserID: userID, CycleToken: cycle, EventID: eventID, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsFetchError reports whether err is a calendar fetch failure.
// Uses errors.As to handle wrapped errors.
func IsFetchError(err error) bool {
	return hasCode(err, ErrCodeFetch)
}

// IsStoreError reports whether err is a state store failure.
func IsStoreError(err error) bool {
	return hasCode(err, ErrCodeStore)
}

// IsDeliveryError reports whether err is a notification delivery failure.
func IsDeliveryError(err error) bool {
	return hasCode(err, ErrCodeDelivery)
}

// Settings errors.
var (
	ErrUnknownSetting      = errors.New("unknown setting")
	ErrInvalidSettingValue = errors.New("invalid setting value")
)
