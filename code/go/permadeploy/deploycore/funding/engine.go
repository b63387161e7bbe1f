// Package funding decides how an upload is paid for and carries out just-in-time top-ups.
package funding

import (
	"math/big"
	"strings"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"go.uber.org/zap"
)

// Rail is the way an upload gets paid.
type Rail int

const (
	// RailCredits spends the existing account balance.
	RailCredits Rail = iota + 1
	// RailOnDemand tops the balance up from the wallet before uploading.
	RailOnDemand
	// RailX402 pays each upload with a signed stablecoin authorization.
	RailX402
)

func (r Rail) String() string {
	switch r {
	case RailCredits:
		return "credits"
	case RailOnDemand:
		return "on-demand"
	case RailX402:
		return "x402"
	}
	return "unknown"
}

// Payment modes accepted in PaymentConfig.Mode.
const (
	ModeCredits = "credits"
	ModeJIT     = "jit"
)

const DefaultBufferMultiplier = 1.1

type PaymentConfig struct {
	Mode             string
	MaxTokenAmount   *big.Int
	BufferMultiplier float64
}

type Decision struct {
	Rail Rail
	// OnDemand is only set for RailOnDemand.
	OnDemand *transport.OnDemandFunding
}

type Engine struct{}

// Decide picks the rail for token. Stablecoin tokens always pay through x402; a JIT request
// for a token that cannot be topped up on demand falls back to credits.
func (Engine) Decide(token wallet.TokenType, cfg PaymentConfig) Decision {
	caps := token.Capabilities()
	if caps.X402 {
		return Decision{Rail: RailX402}
	}

	if !strings.EqualFold(cfg.Mode, ModeJIT) {
		return Decision{Rail: RailCredits}
	}
	if !caps.SupportsJIT {
		logging.Logger.Warn("on-demand funding not supported for token, using credits",
			zap.String("token", token.String()))
		return Decision{Rail: RailCredits}
	}

	multiplier := cfg.BufferMultiplier
	if multiplier < 1 {
		multiplier = DefaultBufferMultiplier
	}
	var max *big.Int
	if cfg.MaxTokenAmount != nil {
		max = new(big.Int).Set(cfg.MaxTokenAmount)
	}
	return Decision{
		Rail: RailOnDemand,
		OnDemand: &transport.OnDemandFunding{
			MaxTokenAmount:        max,
			TopUpBufferMultiplier: multiplier,
		},
	}
}
