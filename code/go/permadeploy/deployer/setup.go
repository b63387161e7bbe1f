package main

import (
	"context"
	"math/big"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/config"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/datastore"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/dedup"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/deploy"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/funding"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/hasher"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/upload"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/x402"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app holds what one command invocation opened; close releases it.
type app struct {
	engine  *deploy.Engine
	factory *wallet.Factory
	builder *deploy.Builder
	cache   dedup.Repository
	history deploy.History
	closers []func()
}

func (r *app) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openStores opens the hash cache and the deployment history. The history always lives in
// the SQL datastore; the cache follows dedup.backend.
func openStores(r *app) error {
	c := config.Configuration

	if c.DedupEnabled {
		repo, release, err := dedup.OpenConfigured()
		if err != nil {
			return err
		}
		r.cache = repo
		r.closers = append(r.closers, release)
	}

	store := datastore.GetStore()
	if store == nil || store.GetDB() == nil {
		if err := datastore.UseConfigured(); err != nil {
			return err
		}
		store = datastore.GetStore()
		if err := store.Open(); err != nil {
			return err
		}
		if err := store.AutoMigrate(); err != nil {
			store.Close()
			return err
		}
		r.closers = append(r.closers, store.Close)
	}
	r.history = deploy.NewGormHistory(store.GetDB())
	return nil
}

// networkFor names the EVM network a token settles on.
func networkFor(token wallet.TokenType, x402Network string) string {
	switch token {
	case wallet.TokenEthereum:
		return "ethereum"
	case wallet.TokenPOL:
		return "polygon"
	case wallet.TokenBaseETH:
		if strings.HasPrefix(x402Network, "base") {
			return x402Network
		}
		return "base"
	}
	return x402Network
}

func sessionToken() (wallet.TokenType, error) {
	if config.Configuration.WalletToken == "" {
		return 0, nil
	}
	return wallet.ParseTokenType(config.Configuration.WalletToken)
}

// openWallet loads the key, picks the chain for the session token and builds the client
// factory. Only ethereum keys can be loaded by this binary.
func openWallet(ctx context.Context, r *app) error {
	c := config.Configuration

	walletType, err := wallet.ParseWalletType(c.WalletType)
	if err != nil {
		return err
	}
	if walletType != wallet.WalletEthereum {
		return errors.Throw(errors.ErrUnsupportedWalletType,
			"only ethereum keys can be loaded from the command line, got "+walletType.String())
	}
	token, err := sessionToken()
	if err != nil {
		return err
	}
	if token == 0 {
		token = wallet.DefaultToken(walletType)
	}

	key, err := wallet.LoadEthereumKey(ctx, wallet.KeySource{File: c.WalletKeyFile, SecretID: c.WalletKeySecret})
	if err != nil {
		return err
	}
	chainID, err := x402.ChainID(networkFor(token, c.X402.Network))
	if err != nil {
		return err
	}
	signer := wallet.NewEthereumSigner(key, chainID)

	maxAmount, err := c.X402MaxAmount()
	if err != nil {
		return err
	}

	opts := deploy.ClientOptions{
		UploadURL:  c.UploadURL,
		PaymentURL: c.PaymentURL,
		X402: x402.Options{
			Endpoint:      c.X402.Endpoint,
			Network:       c.X402.Network,
			MaxAmount:     maxAmount,
			TimeoutBuffer: c.X402.TimeoutBuffer,
			Observer: func(from, to x402.State) {
				logging.Logger.Debug("x402", zap.Stringer("from", from), zap.Stringer("to", to))
			},
		},
		JIT: funding.JITOptions{
			MaxResubmits:    c.JITMaxResubmits,
			ConfirmInterval: c.JITConfirmInterval,
		},
	}
	if c.WalletRPCURL != "" {
		sender, err := wallet.DialEthereumTokenSender(ctx, key, c.WalletRPCURL,
			wallet.TokenEthereum, wallet.TokenBaseETH, wallet.TokenPOL)
		if err != nil {
			return err
		}
		opts.Sender = sender
	}

	r.builder = deploy.NewBuilder(opts)
	r.factory, err = wallet.NewFactory(wallet.StaticSurface{Signer: signer}, r.builder.Build, c.ClientCacheSize)
	if err != nil {
		return err
	}
	r.factory.SetSession(wallet.Session{
		WalletType: walletType,
		Address:    signer.Address(),
		TokenType:  token,
	})
	return nil
}

func openRuntime(ctx context.Context, withWallet bool) (*app, error) {
	r := &app{}
	if err := openStores(r); err != nil {
		r.close()
		return nil, err
	}
	if withWallet {
		if err := openWallet(ctx, r); err != nil {
			r.close()
			return nil, err
		}
	}

	c := config.Configuration
	r.engine = deploy.NewEngine(deploy.Config{
		Clients: r.factory,
		Hasher: hasher.New(hasher.Options{
			Concurrency: c.HashConcurrency,
			MaxFileSize: c.HashMaxFileSize,
			Timeout:     c.HashTimeout,
		}),
		Cache:   r.cache,
		History: r.history,
		Policy: upload.Policy{
			BatchSize:       c.BatchSize,
			MaxAttempts:     c.MaxAttempts,
			Backoff:         c.Backoff,
			AttemptTimeout:  c.AttemptTimeout,
			MaxFailureRatio: c.MaxFailureRatio,
			AppName:         c.AppName,
			AppVersion:      c.AppVersion,
		},
		FreeTierBytes: c.FreeTierBytes,
	})
	return r, nil
}

// paymentConfig is read per deploy so a reloaded cap applies to the next one.
func paymentConfig() (funding.PaymentConfig, error) {
	c := config.Configuration
	maxTokens, err := c.JITMaxTokens()
	if err != nil {
		return funding.PaymentConfig{}, err
	}
	return funding.PaymentConfig{
		Mode:             c.PaymentMode,
		MaxTokenAmount:   maxTokens,
		BufferMultiplier: c.JITBufferMultiplier,
	}, nil
}

// watchConfig applies log level and payment cap changes while a long deploy runs.
func watchConfig(r *app) {
	config.WatchConfig(func(e fsnotify.Event, c *config.Config) {
		if err := logging.SetLevel(viper.GetString("logging.level")); err != nil {
			logging.Logger.Warn("ignoring invalid log level", zap.Error(err))
		}
		if r.builder != nil {
			maxAmount, err := c.X402MaxAmount()
			if err != nil {
				logging.Logger.Warn("ignoring invalid x402.max_amount", zap.Error(err))
				return
			}
			r.builder.SetX402MaxAmount(maxAmount)
			r.factory.Reset()
		}
		logging.Logger.Info("configuration reloaded", zap.String("file", e.Name))
	})
}

func formatUnits(n *big.Int) string {
	if n == nil {
		return "unlimited"
	}
	return n.String()
}
