package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"electorate/internal/admin"
	"electorate/internal/platform/config"
)

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate key material for deployment",
	}
	cmd.AddCommand(keygenSecretsCmd(), keygenAdminCmd())
	return cmd
}

// keygenSecretsCmd prints a fresh set of the three env-only keys.
func keygenSecretsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secrets",
		Short: "Generate the identity salt, vault master key and issuer key",
		RunE: func(_ *cobra.Command, _ []string) error {
			salt, err := randomHex(32)
			if err != nil {
				return err
			}
			master, err := randomHex(32)
			if err != nil {
				return err
			}
			issuer, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate issuer key: %w", err)
			}

			fmt.Printf("%s=%s\n", config.EnvIdentitySalt, salt)
			fmt.Printf("%s=%s\n", config.EnvVaultMasterKey, master)
			fmt.Printf("%s=%s\n", config.EnvIssuerKey, hex.EncodeToString(crypto.FromECDSA(issuer)))
			return nil
		},
	}
}

// keygenAdminCmd prints a random admin secret and its bcrypt hash. The hash
// goes into the environment; the secret goes to the operator.
func keygenAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-secret",
		Short: "Generate an admin API secret and its hash",
		RunE: func(_ *cobra.Command, _ []string) error {
			secret, err := admin.GenerateSecret()
			if err != nil {
				return err
			}
			hash, err := admin.HashSecret(secret)
			if err != nil {
				return err
			}

			fmt.Printf("secret: %s\n", secret)
			fmt.Printf("%s=%s\n", config.EnvAdminSecretHash, hash)
			return nil
		},
	}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
