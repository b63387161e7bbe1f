package wallet

import (
	"context"
	"crypto/ecdsa"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
)

// KeyEnv is the environment variable checked when no file or secret is configured.
const KeyEnv = "PERMADEPLOY_WALLET_KEY"

// SecretsAPI is the part of the Secrets Manager client used to fetch a key.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// KeySource says where the wallet key lives. The first non-empty source wins:
// SecretID, then File, then the KeyEnv variable.
type KeySource struct {
	File     string
	SecretID string
	// Secrets overrides the client built from the default AWS config.
	Secrets SecretsAPI
}

// LoadEthereumKey resolves a hex encoded secp256k1 key from the configured source.
func LoadEthereumKey(ctx context.Context, src KeySource) (*ecdsa.PrivateKey, error) {
	raw, err := src.read(ctx)
	if err != nil {
		return nil, err
	}
	hexKey := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, common.NewErrorf("invalid_wallet_key", "wallet key is not a hex secp256k1 key: %v", err)
	}
	return key, nil
}

func (src KeySource) read(ctx context.Context) (string, error) {
	switch {
	case src.SecretID != "":
		client := src.Secrets
		if client == nil {
			cfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return "", common.NewErrorf("wallet_key_unavailable", "load aws config: %v", err)
			}
			client = secretsmanager.NewFromConfig(cfg)
		}
		out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(src.SecretID),
		})
		if err != nil {
			return "", common.NewErrorf("wallet_key_unavailable", "read secret %s: %v", src.SecretID, err)
		}
		if out.SecretString == nil {
			return "", common.NewErrorf("wallet_key_unavailable", "secret %s has no string value", src.SecretID)
		}
		return *out.SecretString, nil

	case src.File != "":
		b, err := os.ReadFile(src.File)
		if err != nil {
			return "", common.NewErrorf("wallet_key_unavailable", "read key file: %v", err)
		}
		return string(b), nil

	default:
		if v := os.Getenv(KeyEnv); v != "" {
			return v, nil
		}
		return "", common.NewError("wallet_key_unavailable", "no wallet key configured")
	}
}
