// Package errors holds the error taxonomy shared by every deploy component and the
// translation of raw transport and wallet failures into actionable categories.
package errors

import (
	"context"
	stderrors "errors"
	"strings"

	zerrors "github.com/0chain/errors"
)

var (
	ErrWalletNotConnected         = zerrors.New("wallet_not_connected", "no wallet address is connected")
	ErrWalletUnavailable          = zerrors.New("wallet_unavailable", "the expected wallet is not available")
	ErrUnsupportedWalletType      = zerrors.New("unsupported_wallet_type", "wallet and token combination is not supported")
	ErrNetworkError               = zerrors.New("network_error", "request to the upload service failed")
	ErrTimeout                    = zerrors.New("timeout", "operation timed out")
	ErrCancelled                  = zerrors.New("cancelled", "operation cancelled")
	ErrInsufficientBalance        = zerrors.New("insufficient_balance", "insufficient balance for upload")
	ErrMaxAmountExceeded          = zerrors.New("max_amount_exceeded", "required payment exceeds the configured maximum")
	ErrPaymentAuthorizationFailed = zerrors.New("payment_authorization_failed", "payment authorization failed")
	ErrHashingFailed              = zerrors.New("hashing_failed", "content hash could not be computed")
	ErrTooManyFailures            = zerrors.New("too_many_failures", "too many files failed to upload")
	ErrManifestFallbackUnresolved = zerrors.New("manifest_fallback_unresolved", "fallback path not found in deployment")
	ErrWrongNetwork               = zerrors.New("wrong_network", "wallet is connected to the wrong network")
)

// Throw attaches detail messages to one of the taxonomy errors.
func Throw(inner error, msgs ...string) error {
	return zerrors.Throw(inner, msgs...)
}

// Wrap stacks current on top of previous so both stay matchable with Is.
func Wrap(previous error, current interface{}) error {
	return zerrors.Wrap(previous, current)
}

// Is reports whether err is, wraps, or carries the code of target.
func Is(err, target error) bool {
	if err == nil {
		return false
	}
	if zerrors.Is(err, target) {
		return true
	}
	// ApplicationError and withError do not both unwrap the same way
	var app *zerrors.ApplicationError
	if stderrors.As(err, &app) && app.Inner != nil && app.Inner != err {
		return Is(app.Inner, target)
	}
	return false
}

// FromContext maps a finished context to Cancelled or Timeout.
func FromContext(ctx context.Context) error {
	switch {
	case ctx.Err() == nil:
		return nil
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return Throw(ErrTimeout, ctx.Err().Error())
	default:
		return Throw(ErrCancelled, ctx.Err().Error())
	}
}

// FromSigner classifies a wallet signing failure. A prompt the user declined is Cancelled,
// anything else fails the payment authorization. what names the thing being signed.
func FromSigner(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return FromContext(ctx)
	}
	if Declined(err) {
		return Throw(ErrCancelled, what+" declined: "+err.Error())
	}
	return Throw(ErrPaymentAuthorizationFailed, what+": "+err.Error())
}

// Declined reports whether err is a wallet's answer to a refused signature prompt.
func Declined(err error) bool {
	return err != nil && containsAny(strings.ToLower(err.Error()), declinedHints)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one another attempt cannot fix. Is still matches the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return stderrors.As(err, &p)
}
