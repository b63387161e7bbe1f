package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/util"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TurboOptions configures a TurboClient.
type TurboOptions struct {
	UploadURL  string
	PaymentURL string
	// Token is the payment token path segment, e.g. "arweave" or "base-eth".
	Token   string
	Address string
	Signer  DataItemSigner
	// Funder is only set for tokens that support just-in-time funding.
	Funder     Funder
	HTTPClient *http.Client
}

// TurboClient talks to the upload and payment services on behalf of one wallet.
type TurboClient struct {
	opts TurboOptions
	hc   *http.Client
}

func NewTurboClient(opts TurboOptions) *TurboClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &TurboClient{opts: opts, hc: hc}
}

// SetFunder wires the just-in-time funder after construction; the funder itself needs the
// client for balance queries.
func (c *TurboClient) SetFunder(f Funder) {
	c.opts.Funder = f
}

func (c *TurboClient) Upload(ctx context.Context, req *Request, progress util.ProgressFunc) (*UploadResult, error) {
	data, err := readRequest(req)
	if err != nil {
		return nil, err
	}

	item, err := c.opts.Signer.SignDataItem(ctx, data, req.Tags)
	if err != nil {
		return nil, errors.FromSigner(ctx, err, "sign data item")
	}

	if req.Funding != nil && c.opts.Funder != nil {
		if err := c.ensureFunds(ctx, int64(len(item.Bytes)), req.Funding); err != nil {
			return nil, err
		}
	}

	return c.PostSigned(ctx, item, progress)
}

// PostSigned sends an already signed payload to the upload endpoint.
func (c *TurboClient) PostSigned(ctx context.Context, item *SignedDataItem, progress util.ProgressFunc) (*UploadResult, error) {
	size := int64(len(item.Bytes))
	body := util.NewProgressReader(bytes.NewReader(item.Bytes), size, progress)

	endpoint := fmt.Sprintf("%s/v1/tx/%s", c.opts.UploadURL, url.PathEscape(c.opts.Token))
	httpReq, err := util.NewHTTPRequest(ctx, http.MethodPost, endpoint, body, map[string]string{
		"Content-Type": "application/octet-stream",
	})
	if err != nil {
		return nil, err
	}
	httpReq.ContentLength = size

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if !util.IsSuccess(resp.StatusCode) {
		herr := util.NewHTTPError(resp)
		if resp.StatusCode == http.StatusPaymentRequired {
			return nil, errors.Throw(errors.ErrInsufficientBalance, herr.Msg)
		}
		return nil, errors.Throw(errors.ErrNetworkError, herr.Error())
	}

	raw, err := util.ReadBody(resp)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return DecodeUploadResult(raw)
}

// DecodeUploadResult parses a receipt and keeps the raw bytes alongside.
func DecodeUploadResult(raw []byte) (*UploadResult, error) {
	var result UploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Throw(errors.ErrNetworkError, "decode upload receipt: "+err.Error())
	}
	if result.ID == "" {
		return nil, errors.Throw(errors.ErrNetworkError, "upload receipt has no id")
	}
	result.RawReceipt = append(json.RawMessage(nil), raw...)
	return &result, nil
}

func (c *TurboClient) ensureFunds(ctx context.Context, size int64, funding *OnDemandFunding) error {
	cost, err := c.GetUploadCost(ctx, size)
	if err != nil {
		return err
	}
	balance, err := c.GetBalance(ctx)
	if err != nil {
		return err
	}
	if balance.GreaterThanOrEqual(cost) {
		return nil
	}

	logging.Logger.Info("topping up before upload",
		zap.String("token", c.opts.Token),
		zap.String("cost_winc", cost.String()),
		zap.String("balance_winc", balance.String()))
	return c.opts.Funder.TopUp(ctx, cost, funding)
}

type wincResponse struct {
	Winc decimal.Decimal `json:"winc"`
}

func (c *TurboClient) GetUploadCost(ctx context.Context, bytes int64) (decimal.Decimal, error) {
	var out wincResponse
	endpoint := fmt.Sprintf("%s/v1/price/bytes/%s", c.opts.PaymentURL, strconv.FormatInt(bytes, 10))
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Winc, nil
}

func (c *TurboClient) GetTokenPrice(ctx context.Context) (decimal.Decimal, error) {
	var out wincResponse
	endpoint := fmt.Sprintf("%s/v1/price/%s/1", c.opts.PaymentURL, url.PathEscape(c.opts.Token))
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Winc, nil
}

// GetBalance returns the account balance in winc; an unknown account has zero balance.
func (c *TurboClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var out wincResponse
	endpoint := fmt.Sprintf("%s/v1/account/balance/%s?address=%s",
		c.opts.PaymentURL, url.PathEscape(c.opts.Token), url.QueryEscape(c.opts.Address))
	err := c.getJSON(ctx, endpoint, &out)
	if errors.Is(err, errNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return out.Winc, nil
}

type fundTransaction struct {
	TransactionID       string          `json:"transactionId"`
	WinstonCreditAmount decimal.Decimal `json:"winstonCreditAmount"`
}

// SubmitFundTransaction reports an on-chain payment so the service credits the account.
func (c *TurboClient) SubmitFundTransaction(ctx context.Context, txID string) (*FundResult, error) {
	payload, _ := json.Marshal(map[string]string{"tx_id": txID})
	endpoint := fmt.Sprintf("%s/v1/account/balance/%s", c.opts.PaymentURL, url.PathEscape(c.opts.Token))

	req, err := util.NewHTTPRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if !util.IsSuccess(resp.StatusCode) {
		return nil, errors.Throw(errors.ErrNetworkError, util.NewHTTPError(resp).Error())
	}
	raw, err := util.ReadBody(resp)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var body struct {
		Credited *fundTransaction `json:"creditedTransaction"`
		Pending  *fundTransaction `json:"pendingTransaction"`
		Failed   *fundTransaction `json:"failedTransaction"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.Throw(errors.ErrNetworkError, "decode fund response: "+err.Error())
	}

	switch {
	case body.Credited != nil:
		return &FundResult{TxID: txID, Status: FundStatusConfirmed, Winc: body.Credited.WinstonCreditAmount}, nil
	case body.Pending != nil:
		return &FundResult{TxID: txID, Status: FundStatusPending, Winc: body.Pending.WinstonCreditAmount}, nil
	case body.Failed != nil:
		return &FundResult{TxID: txID, Status: FundStatusFailed}, nil
	}
	return nil, errors.Throw(errors.ErrNetworkError, "fund response has no transaction")
}

// GetPaymentAddress looks the token up in the service's published deposit addresses.
func (c *TurboClient) GetPaymentAddress(ctx context.Context) (string, error) {
	var out struct {
		Addresses map[string]string `json:"addresses"`
	}
	if err := c.getJSON(ctx, c.opts.PaymentURL+"/v1/info", &out); err != nil {
		return "", err
	}
	addr := out.Addresses[c.opts.Token]
	if addr == "" {
		return "", errors.Throw(errors.ErrNetworkError, "no deposit address for "+c.opts.Token)
	}
	return addr, nil
}

var errNotFound = errors.Throw(errors.ErrNetworkError, "not found")

func (c *TurboClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := util.NewHTTPRequest(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return errNotFound
	}
	if !util.IsSuccess(resp.StatusCode) {
		return errors.Throw(errors.ErrNetworkError, util.NewHTTPError(resp).Error())
	}
	raw, err := util.ReadBody(resp)
	if err != nil {
		return transportError(ctx, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Throw(errors.ErrNetworkError, "decode "+endpoint+": "+err.Error())
	}
	return nil
}

func readRequest(req *Request) ([]byte, error) {
	rc, err := req.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open upload payload")
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, "read upload payload")
	}
	return data, nil
}

// transportError maps a failed round trip to Cancelled, Timeout or NetworkError.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.FromContext(ctx)
	}
	return errors.Throw(errors.ErrNetworkError, err.Error())
}
