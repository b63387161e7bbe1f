package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs(t *testing.T) {
	thrown := Throw(ErrTooManyFailures, "3 of 12 files failed")
	require.True(t, Is(thrown, ErrTooManyFailures))
	require.False(t, Is(thrown, ErrCancelled))
	require.Contains(t, thrown.Error(), "too_many_failures")
	require.Contains(t, thrown.Error(), "3 of 12 files failed")

	wrapped := Wrap(thrown, "upload aborted")
	require.True(t, Is(wrapped, ErrTooManyFailures))

	require.True(t, Is(fmt.Errorf("batch: %w", thrown), ErrTooManyFailures))
	require.False(t, Is(nil, ErrTimeout))
}

func TestFromContext(t *testing.T) {
	require.NoError(t, FromContext(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, Is(FromContext(ctx), ErrCancelled))

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	require.True(t, Is(FromContext(ctx), ErrTimeout))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		action   string
	}{
		{"max amount", Throw(ErrMaxAmountExceeded, "1000 > 10"), CategoryInsufficientFunds, "top up or raise payment limit"},
		{"raw insufficient funds", stderrors.New("execution reverted: insufficient funds for gas"), CategoryInsufficientFunds, "top up or raise payment limit"},
		{"user declined", stderrors.New("MetaMask Tx Signature: User denied transaction signature."), CategoryCancelled, ""},
		{"cancelled", Throw(ErrCancelled, "context canceled"), CategoryCancelled, ""},
		{"wrong network", Throw(ErrWrongNetwork, "connected to 1, need 8453"), CategoryWrongNetwork, "switch network"},
		{"raw chain mismatch", stderrors.New("chain mismatch: expected 8453"), CategoryWrongNetwork, "switch network"},
		{"wallet", ErrWalletNotConnected, CategoryWallet, "reconnect your wallet"},
		{"timeout", context.DeadlineExceeded, CategoryTimeout, "retry"},
		{"network", Throw(ErrNetworkError, "502"), CategoryNetwork, "check your connection and retry"},
		{"unknown", stderrors.New("boom"), CategoryUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := Translate(tt.err)
			require.NotNil(t, ue)
			assert.Equal(t, tt.category, ue.Category)
			assert.Equal(t, tt.action, ue.Action)
			assert.ErrorIs(t, ue, tt.err)
		})
	}

	require.Nil(t, Translate(nil))

	ue := Translate(ErrWalletUnavailable)
	require.Same(t, ue, Translate(fmt.Errorf("wrapped: %w", ue)))
}

func TestFromSigner(t *testing.T) {
	ctx := context.Background()

	declined := FromSigner(ctx, stderrors.New("User rejected the request. (code 4001)"), "sign data item")
	require.True(t, Is(declined, ErrCancelled))
	require.Contains(t, declined.Error(), "sign data item declined")

	broken := FromSigner(ctx, stderrors.New("device disconnected"), "sign authorization")
	require.True(t, Is(broken, ErrPaymentAuthorizationFailed))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.True(t, Is(FromSigner(cancelled, stderrors.New("device disconnected"), "sign"), ErrCancelled))
}

func TestPermanent(t *testing.T) {
	require.Nil(t, Permanent(nil))

	err := Permanent(Throw(ErrPaymentAuthorizationFailed, "payment rejected: status 402"))
	require.True(t, IsPermanent(err))
	require.True(t, IsPermanent(fmt.Errorf("upload: %w", err)))
	require.True(t, Is(err, ErrPaymentAuthorizationFailed))
	require.Equal(t, CategoryWallet, Translate(err).Category)

	require.False(t, IsPermanent(Throw(ErrNetworkError, "boom")))
}
