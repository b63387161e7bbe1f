package funding

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultMaxResubmits    = 3
	DefaultConfirmInterval = 5 * time.Second
	DefaultSubmitTimeout   = 30 * time.Second
)

// FundingReceipt is the record of one on-chain top-up. TxID is kept as data so a slow
// confirmation can be resubmitted without recovering the id from an error message.
type FundingReceipt struct {
	TxID        string          `json:"tx_id"`
	Token       string          `json:"token"`
	TokenAmount string          `json:"token_amount"`
	Winc        decimal.Decimal `json:"winc"`
	Status      string          `json:"status"`
	Submits     int             `json:"submits"`
}

type JITOptions struct {
	Token           wallet.TokenType
	MaxResubmits    int
	ConfirmInterval time.Duration
	// SubmitTimeout bounds one submission; running out of it counts as still pending.
	SubmitTimeout time.Duration
}

// JITFunder pays a shortfall from the wallet and waits for the payment service to credit it.
type JITFunder struct {
	sender  wallet.TokenSender
	balance transport.BalanceClient
	opts    JITOptions

	// one top-up at a time; concurrent uploads re-check the balance after it lands
	mu       sync.Mutex
	receipts []FundingReceipt
}

func NewJITFunder(sender wallet.TokenSender, balance transport.BalanceClient, opts JITOptions) *JITFunder {
	if opts.MaxResubmits < 0 {
		opts.MaxResubmits = DefaultMaxResubmits
	}
	if opts.ConfirmInterval <= 0 {
		opts.ConfirmInterval = DefaultConfirmInterval
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	return &JITFunder{sender: sender, balance: balance, opts: opts}
}

// Receipts returns the top-ups made so far.
func (f *JITFunder) Receipts() []FundingReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FundingReceipt(nil), f.receipts...)
}

// TopUp sends enough tokens to cover cost winc beyond the current balance.
func (f *JITFunder) TopUp(ctx context.Context, cost decimal.Decimal, opts *transport.OnDemandFunding) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// another upload may have topped up while this one waited for the lock
	balance, err := f.balance.GetBalance(ctx)
	if err != nil {
		return err
	}
	if balance.GreaterThanOrEqual(cost) {
		return nil
	}
	shortfall := cost.Sub(balance)

	amount, err := f.tokenAmount(ctx, shortfall, opts)
	if err != nil {
		return err
	}

	payTo, err := f.balance.GetPaymentAddress(ctx)
	if err != nil {
		return err
	}

	txID, err := f.sender.SendTokens(ctx, f.opts.Token, payTo, amount)
	if err != nil {
		if ctx.Err() != nil {
			return errors.FromContext(ctx)
		}
		return errors.Throw(errors.ErrPaymentAuthorizationFailed, "send top-up: "+err.Error())
	}

	receipt := FundingReceipt{
		TxID:        txID,
		Token:       f.opts.Token.String(),
		TokenAmount: amount.String(),
	}
	logging.Logger.Info("top-up sent",
		zap.String("tx_id", txID),
		zap.String("token", receipt.Token),
		zap.String("amount", receipt.TokenAmount))

	err = f.confirm(ctx, &receipt)
	f.receipts = append(f.receipts, receipt)
	return err
}

// confirm submits the receipt's transaction and resubmits the same id while it is pending.
func (f *JITFunder) confirm(ctx context.Context, receipt *FundingReceipt) error {
	for {
		receipt.Submits++
		subCtx, cancel := context.WithTimeout(ctx, f.opts.SubmitTimeout)
		res, err := f.balance.SubmitFundTransaction(subCtx, receipt.TxID)
		cancel()
		switch {
		case err != nil && ctx.Err() != nil:
			return errors.FromContext(ctx)
		case err != nil && !errors.Is(err, errors.ErrTimeout) && !errors.Is(err, errors.ErrNetworkError):
			return err
		case err == nil && res.Status == transport.FundStatusConfirmed:
			receipt.Status = res.Status
			receipt.Winc = res.Winc
			return nil
		case err == nil && res.Status == transport.FundStatusFailed:
			receipt.Status = res.Status
			return errors.Throw(errors.ErrInsufficientBalance, "top-up transaction "+receipt.TxID+" failed")
		}
		receipt.Status = transport.FundStatusPending

		if receipt.Submits > f.opts.MaxResubmits {
			return errors.Throw(errors.ErrTimeout,
				fmt.Sprintf("top-up %s not confirmed after %d submissions", receipt.TxID, receipt.Submits))
		}
		logging.Logger.Info("top-up pending, resubmitting",
			zap.String("tx_id", receipt.TxID),
			zap.Int("submits", receipt.Submits),
			zap.Error(err))
		if common.WaitOrQuit(ctx, f.opts.ConfirmInterval) {
			return errors.FromContext(ctx)
		}
	}
}

// tokenAmount converts a winc shortfall into the token's smallest unit, scaled by the buffer
// multiplier and rounded up.
func (f *JITFunder) tokenAmount(ctx context.Context, shortfall decimal.Decimal, opts *transport.OnDemandFunding) (*big.Int, error) {
	wincPerUnit, err := f.balance.GetTokenPrice(ctx)
	if err != nil {
		return nil, err
	}
	if !wincPerUnit.IsPositive() {
		return nil, errors.Throw(errors.ErrNetworkError, "token price is not positive")
	}

	multiplier := DefaultBufferMultiplier
	if opts != nil && opts.TopUpBufferMultiplier >= 1 {
		multiplier = opts.TopUpBufferMultiplier
	}
	units := shortfall.Mul(decimal.NewFromFloat(multiplier)).Div(wincPerUnit).Ceil()
	amount := units.BigInt()
	if amount.Sign() <= 0 {
		amount = big.NewInt(1)
	}

	if opts != nil && opts.MaxTokenAmount != nil && amount.Cmp(opts.MaxTokenAmount) > 0 {
		return nil, errors.Throw(errors.ErrMaxAmountExceeded,
			fmt.Sprintf("top-up of %s exceeds the limit of %s", amount, opts.MaxTokenAmount))
	}
	return amount, nil
}
