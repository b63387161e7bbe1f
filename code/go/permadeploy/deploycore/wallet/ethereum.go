package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
)

// EthereumSigner signs with a local secp256k1 key. It stands in for an injected browser
// wallet: it can sign data items and EIP-712 payloads and can switch chains freely.
type EthereumSigner struct {
	key     *ecdsa.PrivateKey
	address string

	mu      sync.RWMutex
	chainID *big.Int
}

func NewEthereumSigner(key *ecdsa.PrivateKey, chainID *big.Int) *EthereumSigner {
	return &EthereumSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		chainID: new(big.Int).Set(chainID),
	}
}

func (s *EthereumSigner) Family() WalletType {
	return WalletEthereum
}

func (s *EthereumSigner) Address() string {
	return s.address
}

// Prepare has nothing to ask for: the public key is already known.
func (s *EthereumSigner) Prepare(ctx context.Context) error {
	return ctx.Err()
}

func (s *EthereumSigner) ChainID(ctx context.Context) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.chainID), nil
}

func (s *EthereumSigner) SwitchChain(ctx context.Context, chainID *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainID = new(big.Int).Set(chainID)
	return nil
}

// SignTypedData returns a 65 byte [R || S || V] signature with V in {27, 28}.
func (s *EthereumSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignDataItem builds an ethereum-signed bundled data item (personal_sign over the deep hash).
func (s *EthereumSigner) SignDataItem(ctx context.Context, data []byte, tags []transport.Tag) (*transport.SignedDataItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item := &dataItem{
		sigType: SignatureTypeEthereum,
		owner:   crypto.FromECDSAPub(&s.key.PublicKey),
		tags:    encodeTags(tags),
		data:    data,
	}
	sig, err := crypto.Sign(accounts.TextHash(item.signingMessage()), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return item.assemble(sig), nil
}

// RecoverTypedDataSigner returns the address that produced sig over data.
func RecoverTypedDataSigner(data apitypes.TypedData, sig []byte) (string, error) {
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return "", err
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
