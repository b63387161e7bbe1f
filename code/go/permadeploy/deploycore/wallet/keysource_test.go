package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]string
}

func (f fakeSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, fmt.Errorf("secret not found")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestLoadEthereumKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))
	want := crypto.PubkeyToAddress(key.PublicKey)

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wallet.key")
		require.NoError(t, os.WriteFile(path, []byte("0x"+hexKey+"\n"), 0o600))

		got, err := LoadEthereumKey(context.Background(), KeySource{File: path})
		require.NoError(t, err)
		require.Equal(t, want, crypto.PubkeyToAddress(got.PublicKey))
	})

	t.Run("secret", func(t *testing.T) {
		src := KeySource{SecretID: "deploy/key", Secrets: fakeSecrets{values: map[string]string{"deploy/key": hexKey}}}
		got, err := LoadEthereumKey(context.Background(), src)
		require.NoError(t, err)
		require.Equal(t, want, crypto.PubkeyToAddress(got.PublicKey))

		src.SecretID = "missing"
		_, err = LoadEthereumKey(context.Background(), src)
		require.Error(t, err)
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv(KeyEnv, hexKey)
		got, err := LoadEthereumKey(context.Background(), KeySource{})
		require.NoError(t, err)
		require.Equal(t, want, crypto.PubkeyToAddress(got.PublicKey))
	})

	t.Run("invalid", func(t *testing.T) {
		t.Setenv(KeyEnv, "not-hex")
		_, err := LoadEthereumKey(context.Background(), KeySource{})
		require.Error(t, err)
	})
}
