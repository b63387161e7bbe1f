package wallet

import (
	"strings"

	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
)

// WalletType is the signer family a session is bound to.
type WalletType int

const (
	WalletArweave WalletType = iota + 1
	WalletEthereum
	WalletSolana
)

var walletTypeNames = map[WalletType]string{
	WalletArweave:  "arweave",
	WalletEthereum: "ethereum",
	WalletSolana:   "solana",
}

func (w WalletType) String() string {
	if s, ok := walletTypeNames[w]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether w is one of the declared families.
func (w WalletType) Valid() bool {
	_, ok := walletTypeNames[w]
	return ok
}

// RequiresPrepare reports whether building a client for this family needs a one time
// interactive signature (public key recovery for ethereum and solana signers).
func (w WalletType) RequiresPrepare() bool {
	switch w {
	case WalletEthereum, WalletSolana:
		return true
	case WalletArweave:
		return false
	}
	return false
}

func ParseWalletType(s string) (WalletType, error) {
	for k, v := range walletTypeNames {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	return 0, errors.Throw(errors.ErrUnsupportedWalletType, "unknown wallet type "+s)
}

// TokenType is the payment token an upload is charged in.
type TokenType int

const (
	TokenArweave TokenType = iota + 1
	TokenARIO
	TokenEthereum
	TokenBaseETH
	TokenPOL
	TokenSolana
	TokenBaseUSDC
)

var tokenTypeNames = map[TokenType]string{
	TokenArweave:  "arweave",
	TokenARIO:     "ario",
	TokenEthereum: "ethereum",
	TokenBaseETH:  "base-eth",
	TokenPOL:      "pol",
	TokenSolana:   "solana",
	TokenBaseUSDC: "base-usdc",
}

func (t TokenType) String() string {
	if s, ok := tokenTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

func ParseTokenType(s string) (TokenType, error) {
	for k, v := range tokenTypeNames {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	return 0, errors.Throw(errors.ErrUnsupportedWalletType, "unknown token type "+s)
}

// Capabilities describes what a token can pay for and how.
type Capabilities struct {
	Family      WalletType
	SupportsJIT bool
	X402        bool
	// Decimals of the smallest on-chain unit.
	Decimals int32
}

// Capabilities is exhaustive over the declared tokens; an undeclared value has no family
// and is rejected by every constructor.
func (t TokenType) Capabilities() Capabilities {
	switch t {
	case TokenArweave:
		return Capabilities{Family: WalletArweave, Decimals: 12}
	case TokenARIO:
		return Capabilities{Family: WalletArweave, SupportsJIT: true, Decimals: 6}
	case TokenEthereum:
		return Capabilities{Family: WalletEthereum, Decimals: 18}
	case TokenBaseETH:
		return Capabilities{Family: WalletEthereum, SupportsJIT: true, Decimals: 18}
	case TokenPOL:
		return Capabilities{Family: WalletEthereum, SupportsJIT: true, Decimals: 18}
	case TokenSolana:
		return Capabilities{Family: WalletSolana, SupportsJIT: true, Decimals: 9}
	case TokenBaseUSDC:
		return Capabilities{Family: WalletEthereum, X402: true, Decimals: 6}
	}
	return Capabilities{}
}

// DefaultToken is the token used by a wallet family when the session does not name one.
func DefaultToken(w WalletType) TokenType {
	switch w {
	case WalletArweave:
		return TokenArweave
	case WalletEthereum:
		return TokenEthereum
	case WalletSolana:
		return TokenSolana
	}
	return 0
}

// CheckCombination rejects a token that cannot be paid from the given wallet family.
func CheckCombination(w WalletType, t TokenType) error {
	if !w.Valid() {
		return errors.Throw(errors.ErrUnsupportedWalletType, "unknown wallet type")
	}
	caps := t.Capabilities()
	if caps.Family == 0 {
		return errors.Throw(errors.ErrUnsupportedWalletType, "unknown token type")
	}
	if caps.Family != w {
		return errors.Throw(errors.ErrUnsupportedWalletType,
			"token "+t.String()+" cannot be paid with a "+w.String()+" wallet")
	}
	return nil
}
