package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
)

// Signer is the wallet handle the engine signs with.
type Signer interface {
	Family() WalletType
	Address() string
	// Prepare runs the one time interactive step some families need before the first
	// upload, e.g. signing a message so the public key can be recovered.
	Prepare(ctx context.Context) error
	transport.DataItemSigner
}

// TypedDataSigner produces EIP-712 signatures; only ethereum family signers implement it.
type TypedDataSigner interface {
	Address() string
	ChainID(ctx context.Context) (*big.Int, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// NetworkSwitcher asks the wallet to move to another chain. Remote and hardware wallets
// do not implement it.
type NetworkSwitcher interface {
	SwitchChain(ctx context.Context, chainID *big.Int) error
}

// TokenSender transfers tokens to a payment address for just-in-time funding.
type TokenSender interface {
	SendTokens(ctx context.Context, token TokenType, to string, amount *big.Int) (txID string, err error)
}

// Surface reports which wallet handle is currently available to the process, the way a
// browser exposes window.ethereum or window.arweaveWallet.
type Surface interface {
	// Active returns the signer that is available right now, or nil when none is.
	Active() Signer
}

// StaticSurface is a Surface that always offers the same signer.
type StaticSurface struct {
	Signer Signer
}

func (s StaticSurface) Active() Signer {
	return s.Signer
}
