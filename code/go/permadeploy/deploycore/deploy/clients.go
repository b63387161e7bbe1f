package deploy

import (
	"context"
	"math/big"
	"net/http"
	"sync"

	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/funding"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/x402"
)

// X402Path is appended to the upload URL when no x402 endpoint is configured.
const X402Path = "/x402/data-item/signed"

type ClientOptions struct {
	UploadURL  string
	PaymentURL string
	HTTPClient *http.Client
	X402       x402.Options
	// Sender pays on-demand top-ups; without it every token pays from credits.
	Sender wallet.TokenSender
	JIT    funding.JITOptions
}

// Builder constructs authenticated clients for the wallet factory.
type Builder struct {
	mu   sync.RWMutex
	opts ClientOptions
}

func NewBuilder(opts ClientOptions) *Builder {
	if opts.X402.Endpoint == "" {
		opts.X402.Endpoint = opts.UploadURL + X402Path
	}
	if opts.X402.HTTPClient == nil {
		opts.X402.HTTPClient = opts.HTTPClient
	}
	return &Builder{opts: opts}
}

// SetX402MaxAmount changes the payment cap for clients built from now on. Call
// wallet.Factory.Reset to drop clients built with the old cap.
func (b *Builder) SetX402MaxAmount(limit *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit == nil {
		b.opts.X402.MaxAmount = nil
		return
	}
	b.opts.X402.MaxAmount = new(big.Int).Set(limit)
}

// Build has the wallet.ClientBuilder signature. Stablecoin tokens get an x402 uploader, all
// others the credit based upload service, with a just-in-time funder when the token and a
// sender allow it.
func (b *Builder) Build(ctx context.Context, signer wallet.Signer, token wallet.TokenType) (*wallet.AuthenticatedClient, error) {
	b.mu.RLock()
	opts := b.opts
	b.mu.RUnlock()

	client := &wallet.AuthenticatedClient{
		Address:    signer.Address(),
		WalletType: signer.Family(),
		TokenType:  token,
		Signer:     signer,
	}

	caps := token.Capabilities()
	if caps.X402 {
		typed, ok := signer.(wallet.TypedDataSigner)
		if !ok {
			return nil, errors.Throw(errors.ErrUnsupportedWalletType,
				"wallet cannot sign "+token.String()+" payment authorizations")
		}
		client.Uploader = x402.NewUploader(x402.NewClient(typed, opts.X402), signer)
		return client, nil
	}

	turbo := transport.NewTurboClient(transport.TurboOptions{
		UploadURL:  opts.UploadURL,
		PaymentURL: opts.PaymentURL,
		Token:      token.String(),
		Address:    signer.Address(),
		Signer:     signer,
		HTTPClient: opts.HTTPClient,
	})
	client.Uploader = turbo
	client.Balance = turbo

	if caps.SupportsJIT && opts.Sender != nil {
		jit := opts.JIT
		jit.Token = token
		f := funding.NewJITFunder(opts.Sender, turbo, jit)
		turbo.SetFunder(f)
		client.Funder = f
	}
	return client, nil
}
