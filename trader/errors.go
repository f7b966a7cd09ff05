package trader

import (
	"errors"
	"fmt"
)

// ErrorKind classifies execution failures
type ErrorKind string

const (
	KindConfig          ErrorKind = "config"           // missing credentials / invalid settings
	KindInvalidIntent   ErrorKind = "invalid_intent"   // wait or malformed intent reached the adapter
	KindPriceFeed       ErrorKind = "price_feed"       // reference price unavailable
	KindLeverage        ErrorKind = "leverage"         // leverage configuration refused
	KindPrimaryOrder    ErrorKind = "primary_order"    // opening order failed or was rejected
	KindProtectiveOrder ErrorKind = "protective_order" // TP/SL placement failed
)

// ExecError failure of one execution step
type ExecError struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *ExecError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Step, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Recoverable best-effort steps are downgraded to warnings; everything else ends the cycle
func (e *ExecError) Recoverable() bool {
	switch e.Kind {
	case KindLeverage, KindProtectiveOrder:
		return true
	}
	return false
}

func newExecError(kind ErrorKind, step string, err error) *ExecError {
	return &ExecError{Kind: kind, Step: step, Err: err}
}

// KindOf returns the ErrorKind carried by err, or "" when err is not an ExecError
func KindOf(err error) ErrorKind {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return ""
}

// IsRecoverable reports whether err is an ExecError that may be downgraded to a warning
func IsRecoverable(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Recoverable()
}
