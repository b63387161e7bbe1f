package errors

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
)

// Category is a user actionable class of failure.
type Category string

const (
	CategoryInsufficientFunds Category = "insufficient_funds"
	CategoryCancelled         Category = "cancelled"
	CategoryWrongNetwork      Category = "wrong_network"
	CategoryWallet            Category = "wallet"
	CategoryNetwork           Category = "network"
	CategoryTimeout           Category = "timeout"
	CategoryUnknown           Category = "unknown"
)

// UserError is what gets surfaced to a person: what happened and what to do about it.
type UserError struct {
	Category Category
	Message  string
	Action   string
	Cause    error
}

func (e *UserError) Error() string {
	if e.Action == "" {
		return e.Message
	}
	return e.Message + " (" + e.Action + ")"
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

var (
	insufficientHints = []string{"insufficient funds", "insufficient balance", "exceeds balance", "not enough"}
	declinedHints     = []string{"user rejected", "user denied", "rejected the request", "declined", "code 4001"}
	networkHints      = []string{"chain mismatch", "wrong network", "unrecognized chain", "chain id", "switch network"}
)

// Translate classifies err. Taxonomy errors are matched first, raw wallet and transport
// messages are matched by well known fragments.
func Translate(err error) *UserError {
	if err == nil {
		return nil
	}
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue
	}

	lower := strings.ToLower(err.Error())
	switch {
	case Is(err, ErrInsufficientBalance), Is(err, ErrMaxAmountExceeded), containsAny(lower, insufficientHints):
		return &UserError{CategoryInsufficientFunds, "Insufficient funds for this upload", "top up or raise payment limit", err}
	case Is(err, ErrWrongNetwork), containsAny(lower, networkHints):
		return &UserError{CategoryWrongNetwork, "Wallet is on the wrong network", "switch network", err}
	case Is(err, ErrCancelled), stderrors.Is(err, context.Canceled), containsAny(lower, declinedHints):
		return &UserError{CategoryCancelled, "Transaction cancelled", "", err}
	case Is(err, ErrWalletNotConnected), Is(err, ErrWalletUnavailable), Is(err, ErrUnsupportedWalletType):
		return &UserError{CategoryWallet, "Wallet problem: " + err.Error(), "reconnect your wallet", err}
	case Is(err, ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return &UserError{CategoryTimeout, "The operation timed out", "retry", err}
	case Is(err, ErrNetworkError), isNetError(err):
		return &UserError{CategoryNetwork, "Could not reach the upload service", "check your connection and retry", err}
	case Is(err, ErrPaymentAuthorizationFailed):
		return &UserError{CategoryWallet, "Payment could not be authorized", "retry or check your wallet", err}
	}
	return &UserError{CategoryUnknown, err.Error(), "", err}
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func isNetError(err error) bool {
	var ne net.Error
	return stderrors.As(err, &ne)
}
