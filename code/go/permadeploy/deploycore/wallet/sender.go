package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
)

const nativeTransferGas = 21000

// EthBackend is the part of an RPC client needed to send a native transfer.
type EthBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthereumTokenSender pays top-ups in the native coin of an EVM chain (ETH on Base, POL on
// Polygon).
type EthereumTokenSender struct {
	key     *ecdsa.PrivateKey
	backend EthBackend
	tokens  map[TokenType]bool
}

// DialEthereumTokenSender connects to rpcURL; tokens lists which tokens that chain pays.
func DialEthereumTokenSender(ctx context.Context, key *ecdsa.PrivateKey, rpcURL string, tokens ...TokenType) (*EthereumTokenSender, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Throw(errors.ErrNetworkError, "dial "+rpcURL+": "+err.Error())
	}
	return NewEthereumTokenSender(key, client, tokens...), nil
}

func NewEthereumTokenSender(key *ecdsa.PrivateKey, backend EthBackend, tokens ...TokenType) *EthereumTokenSender {
	set := make(map[TokenType]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return &EthereumTokenSender{key: key, backend: backend, tokens: set}
}

func (s *EthereumTokenSender) SendTokens(ctx context.Context, token TokenType, to string, amount *big.Int) (string, error) {
	if !s.tokens[token] {
		return "", errors.Throw(errors.ErrUnsupportedWalletType, "cannot send "+token.String()+" from this chain")
	}
	if !common.IsHexAddress(to) {
		return "", errors.Throw(errors.ErrPaymentAuthorizationFailed, "invalid deposit address "+to)
	}

	from := crypto.PubkeyToAddress(s.key.PublicKey)
	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", errors.Throw(errors.ErrNetworkError, "nonce: "+err.Error())
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", errors.Throw(errors.ErrNetworkError, "gas price: "+err.Error())
	}
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return "", errors.Throw(errors.ErrNetworkError, "chain id: "+err.Error())
	}

	toAddr := common.HexToAddress(to)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &toAddr,
		Value:    amount,
		Gas:      nativeTransferGas,
		GasPrice: gasPrice,
	}), types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return "", err
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return "", errors.Throw(errors.ErrNetworkError, "send transaction: "+err.Error())
	}
	return tx.Hash().Hex(), nil
}
