package wallet

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/lock"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"go.uber.org/zap"
)

// Session is the wallet identity the user connected with.
type Session struct {
	WalletType WalletType
	Address    string
	// TokenType may be zero, in which case the family default is used.
	TokenType TokenType
}

// AuthenticatedClient is a transport bound to one wallet address and payment token.
// Instances are immutable once published by the Factory.
type AuthenticatedClient struct {
	Address    string
	WalletType WalletType
	TokenType  TokenType
	Signer     Signer
	Uploader   transport.Uploader
	// Balance is nil for rails that do not keep an account balance (x402).
	Balance transport.BalanceClient
	// Funder is set when the token can be topped up on demand from the wallet.
	Funder transport.Funder
}

// ClientBuilder constructs a client for an already validated signer and token.
type ClientBuilder func(ctx context.Context, signer Signer, token TokenType) (*AuthenticatedClient, error)

type clientKey struct {
	address string
	token   TokenType
}

const lockScope = "wallet_client"

// Factory hands out authenticated clients, caching one per (address, token).
type Factory struct {
	surface Surface
	build   ClientBuilder

	mu      sync.RWMutex
	session Session

	registry *lru.Cache[clientKey, *AuthenticatedClient]
}

func NewFactory(surface Surface, build ClientBuilder, cacheSize int) (*Factory, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	registry, err := lru.New[clientKey, *AuthenticatedClient](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Factory{surface: surface, build: build, registry: registry}, nil
}

// SetSession switches the connected identity. Cached clients of other identities stay
// until evicted or Reset; they are simply no longer returned.
func (f *Factory) SetSession(s Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *Factory) Session() Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session
}

// Reset drops every cached client, e.g. on disconnect.
func (f *Factory) Reset() {
	f.registry.Purge()
}

// GetClient returns the client for the current session, building it if the cached one
// belongs to another address or token.
func (f *Factory) GetClient(ctx context.Context, tokenOverride *TokenType) (*AuthenticatedClient, error) {
	session := f.Session()
	if strings.TrimSpace(session.Address) == "" {
		return nil, errors.ErrWalletNotConnected
	}
	if !session.WalletType.Valid() {
		return nil, errors.Throw(errors.ErrUnsupportedWalletType, "session has no wallet type")
	}

	signer, err := f.activeSigner(session)
	if err != nil {
		return nil, err
	}

	token := session.TokenType
	if tokenOverride != nil {
		token = *tokenOverride
	}
	if token == 0 {
		token = DefaultToken(session.WalletType)
	}
	if err := CheckCombination(session.WalletType, token); err != nil {
		return nil, err
	}

	key := clientKey{address: strings.ToLower(session.Address), token: token}
	if c, ok := f.registry.Get(key); ok {
		return c, nil
	}

	m := lock.GetMutex(lockScope, key.address+":"+token.String())
	m.Lock()
	defer m.Unlock()

	// another caller may have finished the build while we waited
	if c, ok := f.registry.Get(key); ok {
		return c, nil
	}

	if session.WalletType.RequiresPrepare() {
		if err := signer.Prepare(ctx); err != nil {
			return nil, errors.Throw(errors.ErrPaymentAuthorizationFailed, "wallet signature: "+err.Error())
		}
	}

	c, err := f.build(ctx, signer, token)
	if err != nil {
		return nil, err
	}
	f.registry.Add(key, c)

	logging.Logger.Info("built wallet client",
		zap.String("wallet", session.WalletType.String()),
		zap.String("address", session.Address),
		zap.String("token", token.String()))
	return c, nil
}

// activeSigner checks that the wallet currently offered by the surface is the one the
// session was opened with, so an external wallet switch is never signed through silently.
func (f *Factory) activeSigner(session Session) (Signer, error) {
	if f.surface == nil {
		return nil, errors.Throw(errors.ErrWalletUnavailable, "no wallet surface")
	}
	signer := f.surface.Active()
	if signer == nil {
		return nil, errors.Throw(errors.ErrWalletUnavailable, session.WalletType.String()+" wallet not found")
	}
	if signer.Family() != session.WalletType {
		return nil, errors.Throw(errors.ErrWalletUnavailable,
			"active wallet is "+signer.Family().String()+", session expects "+session.WalletType.String())
	}
	if !strings.EqualFold(signer.Address(), session.Address) {
		return nil, errors.Throw(errors.ErrWalletUnavailable, "active wallet address changed")
	}
	return signer, nil
}
