package transport

import (
	"context"
	"encoding/json"
	"io"
	"math/big"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/util"
	"github.com/shopspring/decimal"
)

// Tag is one name/value pair carried by a stored object.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SignedDataItem is an upload payload already signed by the wallet.
type SignedDataItem struct {
	ID    string
	Owner string
	Bytes []byte
}

// DataItemSigner turns raw bytes and tags into a signed payload. The bundle format is
// owned by the storage network, not by this engine.
type DataItemSigner interface {
	SignDataItem(ctx context.Context, data []byte, tags []Tag) (*SignedDataItem, error)
}

// OnDemandFunding asks the transport to top up the account before uploading when the
// balance does not cover the cost.
type OnDemandFunding struct {
	// MaxTokenAmount caps a single top-up, in the token's smallest unit.
	MaxTokenAmount *big.Int
	// TopUpBufferMultiplier scales the shortfall so small price moves do not trigger
	// another top-up on the next file.
	TopUpBufferMultiplier float64
}

// Request is one object to store. Open is called once per attempt.
type Request struct {
	Open    func() (io.ReadCloser, error)
	Size    int64
	Tags    []Tag
	Funding *OnDemandFunding
}

// UploadResult is the receipt returned by the upload service.
type UploadResult struct {
	ID                  string           `json:"id"`
	Owner               string           `json:"owner"`
	DataCaches          []string         `json:"dataCaches"`
	FastFinalityIndexes []string         `json:"fastFinalityIndexes"`
	Winc                string           `json:"winc"`
	Timestamp           common.Timestamp `json:"timestamp"`
	Version             string           `json:"version,omitempty"`
	DeadlineHeight      uint64           `json:"deadlineHeight,omitempty"`
	Public              string           `json:"public,omitempty"`
	Signature           string           `json:"signature,omitempty"`
	RawReceipt          json.RawMessage  `json:"-"`
}

// Price returns the winc charged; an unparsable or empty value counts as zero.
func (r *UploadResult) Price() decimal.Decimal {
	p, err := decimal.NewFromString(r.Winc)
	if err != nil {
		return decimal.Zero
	}
	return p
}

// Uploader stores one object. progress may be nil.
type Uploader interface {
	Upload(ctx context.Context, req *Request, progress util.ProgressFunc) (*UploadResult, error)
}

// FundResult is the upload service's view of a submitted funding transaction.
type FundResult struct {
	TxID   string          `json:"id"`
	Status string          `json:"status"`
	Winc   decimal.Decimal `json:"winc"`
}

const (
	FundStatusConfirmed = "confirmed"
	FundStatusPending   = "pending"
	FundStatusFailed    = "failed"
)

// BalanceClient covers the pricing and balance endpoints of the payment service.
type BalanceClient interface {
	GetUploadCost(ctx context.Context, bytes int64) (decimal.Decimal, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	// GetTokenPrice returns how much winc one smallest unit of the token buys.
	GetTokenPrice(ctx context.Context) (decimal.Decimal, error)
	SubmitFundTransaction(ctx context.Context, txID string) (*FundResult, error)
	// GetPaymentAddress returns the deposit address for the client's token.
	GetPaymentAddress(ctx context.Context) (string, error)
}

// Funder tops the account up until it covers cost winc. It re-reads the balance itself, so
// callers racing on the same shortfall trigger a single top-up.
type Funder interface {
	TopUp(ctx context.Context, cost decimal.Decimal, opts *OnDemandFunding) error
}
