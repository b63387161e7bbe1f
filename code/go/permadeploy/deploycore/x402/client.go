package x402

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/util"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"go.uber.org/zap"
)

const (
	DefaultTimeoutBuffer = 60 * time.Second
	validAfterSkew       = time.Hour
)

type Options struct {
	// Endpoint receives the payload, e.g. {upload}/x402/data-item/signed.
	Endpoint string
	Network  string
	// MaxAmount caps a single payment in the asset's smallest unit; nil means no cap.
	MaxAmount     *big.Int
	TimeoutBuffer time.Duration
	ContentType   string
	HTTPClient    *http.Client
	Observer      Observer
}

// Client runs the 402 exchange for one signer.
type Client struct {
	signer wallet.TypedDataSigner
	opts   Options
	hc     *http.Client
	now    func() time.Time
}

func NewClient(signer wallet.TypedDataSigner, opts Options) *Client {
	if opts.TimeoutBuffer <= 0 {
		opts.TimeoutBuffer = DefaultTimeoutBuffer
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{signer: signer, opts: opts, hc: hc, now: time.Now}
}

type exchange struct {
	outcome  *Outcome
	observer Observer
}

func (e *exchange) to(s State) {
	from := e.outcome.State
	if !canTransition(from, s) {
		// a programming error, not a runtime condition
		panic(fmt.Sprintf("x402: illegal transition %s -> %s", from, s))
	}
	e.outcome.State = s
	e.outcome.History = append(e.outcome.History, s)
	if e.observer != nil {
		e.observer(from, s)
	}
}

// Pay posts payload, paying for it when the endpoint asks to. The returned outcome is
// non-nil whenever a request was sent.
func (c *Client) Pay(ctx context.Context, payload []byte) (*Outcome, error) {
	return c.PayWithProgress(ctx, payload, nil)
}

// PayWithProgress is Pay reporting the bytes sent of each request to progress. A paid retry
// sends the payload again, so progress restarts from zero.
func (c *Client) PayWithProgress(ctx context.Context, payload []byte, progress util.ProgressFunc) (*Outcome, error) {
	if err := c.checkNetwork(ctx); err != nil {
		return nil, err
	}

	ex := &exchange{
		outcome:  &Outcome{State: StateIdle, History: []State{StateIdle}},
		observer: c.opts.Observer,
	}

	ex.to(StateRequestSent)
	status, body, header, err := c.post(ctx, payload, "", progress)
	if err != nil {
		return ex.outcome, err
	}
	switch {
	case util.IsSuccess(status):
		ex.outcome.Body = body
		ex.outcome.Settlement = decodeSettlement(header)
		ex.to(StateAccepted)
		return ex.outcome, nil
	case status != http.StatusPaymentRequired:
		return ex.outcome, errors.Throw(errors.ErrNetworkError, fmt.Sprintf("x402 request: status %d: %s", status, body))
	}
	ex.to(StatePaymentRequired)

	var challenge PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return ex.outcome, errors.Throw(errors.ErrPaymentAuthorizationFailed, "decode 402 body: "+err.Error())
	}
	req, ok := challenge.Select(c.opts.Network)
	if !ok {
		return ex.outcome, errors.Throw(errors.ErrPaymentAuthorizationFailed,
			"no exact payment offered on "+c.opts.Network)
	}
	ex.outcome.Requirements = req

	amount, err := req.Amount()
	if err != nil {
		return ex.outcome, err
	}
	if c.opts.MaxAmount != nil && amount.Cmp(c.opts.MaxAmount) > 0 {
		return ex.outcome, errors.Throw(errors.ErrMaxAmountExceeded,
			fmt.Sprintf("payment of %s exceeds the limit of %s", amount, c.opts.MaxAmount))
	}

	ex.to(StateAuthorizing)
	auth, err := c.authorize(ctx, req, amount)
	if err != nil {
		return ex.outcome, err
	}
	ex.outcome.Authorization = auth

	payment, err := encodeHeader(c.opts.Network, auth)
	if err != nil {
		return ex.outcome, err
	}

	ex.to(StateRetrySent)
	status, body, respHeader, err := c.post(ctx, payload, payment, progress)
	if err != nil {
		ex.to(StateRejected)
		return ex.outcome, err
	}
	ex.outcome.Body = body
	if !util.IsSuccess(status) {
		ex.to(StateRejected)
		return ex.outcome, errors.Permanent(errors.Throw(errors.ErrPaymentAuthorizationFailed,
			fmt.Sprintf("payment rejected: status %d: %s", status, body)))
	}
	ex.outcome.Settlement = decodeSettlement(respHeader)
	ex.to(StateAccepted)

	logging.Logger.Info("x402 payment accepted",
		zap.String("network", req.Network),
		zap.String("amount", auth.Value),
		zap.String("pay_to", auth.To))
	return ex.outcome, nil
}

// checkNetwork makes sure the signer is on the configured chain before anything is sent.
func (c *Client) checkNetwork(ctx context.Context) error {
	want, err := ChainID(c.opts.Network)
	if err != nil {
		return err
	}
	have, err := c.signer.ChainID(ctx)
	if err != nil {
		return errors.Throw(errors.ErrWalletUnavailable, "read chain id: "+err.Error())
	}
	if have.Cmp(want) == 0 {
		return nil
	}

	switcher, ok := c.signer.(wallet.NetworkSwitcher)
	if !ok {
		return errors.Throw(errors.ErrWrongNetwork,
			fmt.Sprintf("wallet is on chain %s, payment requires %s (%s)", have, c.opts.Network, want))
	}
	logging.Logger.Info("switching wallet network",
		zap.String("from", have.String()),
		zap.String("to", want.String()))
	if err := switcher.SwitchChain(ctx, want); err != nil {
		return errors.Throw(errors.ErrWrongNetwork, "switch chain: "+err.Error())
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *Requirements, amount *big.Int) (*PaymentAuthorization, error) {
	domain, err := req.Domain()
	if err != nil {
		return nil, err
	}
	chainID, err := ChainID(req.Network)
	if err != nil {
		return nil, err
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Throw(errors.ErrPaymentAuthorizationFailed, "nonce: "+err.Error())
	}

	now := c.now()
	validAfter := now.Add(-validAfterSkew).Unix()
	validBefore := now.Add(time.Duration(req.MaxTimeoutSeconds)*time.Second + c.opts.TimeoutBuffer).Unix()

	auth := &PaymentAuthorization{
		From:        c.signer.Address(),
		To:          req.PayTo,
		Value:       amount.String(),
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	sig, err := c.signer.SignTypedData(ctx, TransferTypedData(domain, chainID, req.Asset, auth, nonce[:]))
	if err != nil {
		return nil, errors.FromSigner(ctx, err, "sign authorization")
	}
	auth.Signature = hexutil.Encode(sig)
	return auth, nil
}

// TransferTypedData is the EIP-712 TransferWithAuthorization message for auth.
func TransferTypedData(domain AssetDomain, chainID *big.Int, asset string, auth *PaymentAuthorization, nonce []byte) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       nonce,
		},
	}
}

func encodeHeader(network string, auth *PaymentAuthorization) (string, error) {
	raw, err := json.Marshal(paymentPayload{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     network,
		Payload: exactPayload{
			Signature:     auth.Signature,
			Authorization: auth,
		},
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeHeader parses an X-PAYMENT header value.
func DecodeHeader(value string) (network string, auth *PaymentAuthorization, err error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", nil, err
	}
	var p paymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, err
	}
	if p.Payload.Authorization == nil {
		return "", nil, fmt.Errorf("payment header has no authorization")
	}
	p.Payload.Authorization.Signature = p.Payload.Signature
	return p.Network, p.Payload.Authorization, nil
}

func decodeSettlement(h http.Header) json.RawMessage {
	v := h.Get(ResponseHeader)
	if v == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil || !json.Valid(raw) {
		return nil
	}
	return raw
}

func (c *Client) post(ctx context.Context, payload []byte, payment string, progress util.ProgressFunc) (int, []byte, http.Header, error) {
	headers := map[string]string{"Content-Type": c.opts.ContentType}
	if payment != "" {
		headers[HeaderName] = payment
	}
	var body io.Reader = bytes.NewReader(payload)
	if progress != nil {
		body = util.NewProgressReader(body, int64(len(payload)), progress)
	}
	req, err := util.NewHTTPRequest(ctx, http.MethodPost, c.opts.Endpoint, body, headers)
	if err != nil {
		return 0, nil, nil, err
	}
	req.ContentLength = int64(len(payload))
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, nil, errors.FromContext(ctx)
		}
		return 0, nil, nil, errors.Throw(errors.ErrNetworkError, err.Error())
	}
	respBody, err := util.ReadBody(resp)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, nil, errors.FromContext(ctx)
		}
		return 0, nil, nil, errors.Throw(errors.ErrNetworkError, err.Error())
	}
	return resp.StatusCode, respBody, resp.Header, nil
}
