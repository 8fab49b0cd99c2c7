package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"payment-auth-service/internal/infra"
	"payment-auth-service/internal/repository"
	"payment-auth-service/internal/security"
	"payment-auth-service/internal/usecase"
)

// rotateFieldsCmd は旧マスターシークレットで暗号化されたプロフィール項目を現在の鍵で再暗号化する。
func rotateFieldsCmd() *cobra.Command {
	var fromVersion uint
	var batchSize int
	cmd := &cobra.Command{
		Use:   "rotate-fields",
		Short: "Re-encrypt profile fields from an old key version (old secret in OLD_MASTER_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			oldSecret := os.Getenv("OLD_MASTER_SECRET")
			if oldSecret == "" {
				return fmt.Errorf("OLD_MASTER_SECRET environment variable is required")
			}

			db, cfg, err := openDB()
			if err != nil {
				return err
			}

			var decrypter infra.SecretDecrypter
			if cfg.MasterSecretKMSCiphertext != "" {
				kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
				if err != nil {
					return err
				}
				defer kmsClient.Close()
				decrypter = kmsClient
			}
			current, err := infra.LoadKeyMaterial(ctx, cfg, decrypter)
			if err != nil {
				return err
			}
			previous, err := security.NewKeyMaterial([]byte(oldSecret), []byte(cfg.CardHashSecret), []byte(cfg.PINPepper))
			if err != nil {
				return err
			}

			repo := repository.NewFieldRepository(db)
			newService, err := usecase.NewProfileFieldService(repo, current, cfg.FieldKeyVersion)
			if err != nil {
				return err
			}
			oldService, err := usecase.NewProfileFieldService(repo, previous, fromVersion)
			if err != nil {
				return err
			}

			n, err := newService.Rotate(ctx, oldService, batchSize)
			if err != nil {
				return fmt.Errorf("rotation stopped after %d field(s): %w", n, err)
			}
			fmt.Printf("Re-encrypted %d field(s) from version %d to %d\n", n, fromVersion, cfg.FieldKeyVersion)
			return nil
		},
	}
	cmd.Flags().UintVar(&fromVersion, "from-version", 0, "Key version of the old master secret (required)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Rows processed per query")
	cmd.MarkFlagRequired("from-version")
	return cmd
}

// kmsCmd はCloud KMS関連のコマンド。
func kmsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kms",
		Short: "Cloud KMS helpers",
	}
	cmd.AddCommand(kmsWrapCmd())
	return cmd
}

// kmsWrapCmd は標準入力のシークレットをKMSで暗号化し、MASTER_SECRET_KMS_CIPHERTEXT用にbase64で出力する。
func kmsWrapCmd() *cobra.Command {
	var keyName string
	cmd := &cobra.Command{
		Use:   "wrap",
		Short: "Wrap a master secret read from stdin with Cloud KMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if keyName == "" {
				keyName = os.Getenv("KMS_KEY_NAME")
			}

			secret, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			plaintext := []byte(strings.TrimRight(string(secret), "\r\n"))
			if len(plaintext) == 0 {
				return fmt.Errorf("secret must not be empty")
			}

			client, err := infra.NewKMSClient(ctx, keyName)
			if err != nil {
				return err
			}
			defer client.Close()

			ciphertext, err := client.Encrypt(ctx, plaintext)
			if err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(ciphertext))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyName, "key", "", "KMS key resource name (or set KMS_KEY_NAME)")
	return cmd
}
