// Package x402 pays for uploads with the HTTP 402 challenge/response protocol: the first
// request is sent unpaid, a 402 answer lists acceptable payments, and the retry carries a
// signed EIP-3009 transfer authorization.
package x402

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
)

const (
	Version     = 1
	SchemeExact = "exact"
	HeaderName  = "X-PAYMENT"

	// ResponseHeader carries the settlement receipt on a paid response.
	ResponseHeader = "X-PAYMENT-RESPONSE"
)

var chainIDs = map[string]int64{
	"base":         8453,
	"base-sepolia": 84532,
	"ethereum":     1,
	"polygon":      137,
}

// ChainID returns the EVM chain id of a payment network name.
func ChainID(network string) (*big.Int, error) {
	id, ok := chainIDs[strings.ToLower(network)]
	if !ok {
		return nil, errors.Throw(errors.ErrWrongNetwork, "unknown payment network "+network)
	}
	return big.NewInt(id), nil
}

// Requirements is one acceptable payment offered in a 402 answer.
type Requirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int64                  `json:"maxTimeoutSeconds"`
	Asset             string                 `json:"asset"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// Amount parses MaxAmountRequired as an integer in the asset's smallest unit.
func (r *Requirements) Amount() (*big.Int, error) {
	v, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.Throw(errors.ErrPaymentAuthorizationFailed,
			fmt.Sprintf("invalid maxAmountRequired %q", r.MaxAmountRequired))
	}
	return v, nil
}

// AssetDomain is the EIP-712 domain name and version of the asset contract, carried in Extra.
type AssetDomain struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

func (r *Requirements) Domain() (AssetDomain, error) {
	var d AssetDomain
	if err := mapstructure.Decode(r.Extra, &d); err != nil {
		return d, errors.Throw(errors.ErrPaymentAuthorizationFailed, "decode extra: "+err.Error())
	}
	if d.Name == "" || d.Version == "" {
		return d, errors.Throw(errors.ErrPaymentAuthorizationFailed, "requirements carry no asset domain")
	}
	return d, nil
}

// PaymentRequired is the body of a 402 answer.
type PaymentRequired struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error,omitempty"`
	Accepts     []Requirements `json:"accepts"`
}

// Select returns the first exact-scheme requirement on network.
func (p *PaymentRequired) Select(network string) (*Requirements, bool) {
	for i := range p.Accepts {
		r := &p.Accepts[i]
		if strings.EqualFold(r.Network, network) && r.Scheme == SchemeExact {
			return r, true
		}
	}
	return nil, false
}

// PaymentAuthorization is a signed TransferWithAuthorization. Integers are decimal strings
// and Nonce is 0x-prefixed hex, matching the wire format.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`

	Signature string `json:"-"`
}

type paymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     exactPayload `json:"payload"`
}

type exactPayload struct {
	Signature     string                `json:"signature"`
	Authorization *PaymentAuthorization `json:"authorization"`
}

// State is a step of one payment exchange.
type State int

const (
	StateIdle State = iota
	StateRequestSent
	StatePaymentRequired
	StateAuthorizing
	StateRetrySent
	StateAccepted
	StateRejected
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateRequestSent:     "request_sent",
	StatePaymentRequired: "payment_required",
	StateAuthorizing:     "authorizing",
	StateRetrySent:       "retry_sent",
	StateAccepted:        "accepted",
	StateRejected:        "rejected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateAccepted || s == StateRejected
}

var transitions = map[State][]State{
	StateIdle:            {StateRequestSent},
	StateRequestSent:     {StateAccepted, StatePaymentRequired},
	StatePaymentRequired: {StateAuthorizing},
	StateAuthorizing:     {StateRetrySent},
	StateRetrySent:       {StateAccepted, StateRejected},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Observer is told about every state change of an exchange.
type Observer func(from, to State)

// Outcome is the final view of one exchange. Authorization and Requirements are only set
// when a payment was required.
type Outcome struct {
	State         State
	History       []State
	Requirements  *Requirements
	Authorization *PaymentAuthorization
	// Body is the response body of the final request.
	Body json.RawMessage
	// Settlement is the decoded X-PAYMENT-RESPONSE header, when present.
	Settlement json.RawMessage
}
