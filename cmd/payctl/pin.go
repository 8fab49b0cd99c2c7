package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"payment-auth-service/internal/security"
)

// pinCmd は取引PIN関連のコマンド。
func pinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Derive and manage transaction PINs",
	}
	cmd.AddCommand(pinDeriveCmd())
	cmd.AddCommand(pinSaltCmd())
	cmd.AddCommand(pinSetCmd())
	return cmd
}

// proofFromServerSalt はサーバーからソルトを取得してPIN証明値を導出する。
func proofFromServerSalt(pin string) (string, error) {
	body, err := callAPI(http.MethodGet, "/v1/pin/salt", nil, http.StatusOK)
	if err != nil {
		return "", err
	}
	var resp struct {
		Salt string `json:"salt"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return security.DerivePINProof(pin, resp.Salt)
}

// pinDeriveCmd はPINとソルトから送信用の証明値をローカルで導出する。
func pinDeriveCmd() *cobra.Command {
	var pin, salt string
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a PIN proof locally (a new salt is generated when --salt is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if salt == "" {
				s, err := security.NewSalt()
				if err != nil {
					return err
				}
				salt = s
			}
			proof, err := security.DerivePINProof(pin, salt)
			if err != nil {
				return err
			}
			if output == "json" {
				b, _ := json.Marshal(map[string]string{"salt": salt, "pin_proof": proof})
				fmt.Println(string(b))
				return nil
			}
			fmt.Printf("salt:      %s\n", salt)
			fmt.Printf("pin_proof: %s\n", proof)
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "6-digit PIN (required)")
	cmd.Flags().StringVar(&salt, "salt", "", "Hex salt")
	cmd.MarkFlagRequired("pin")
	return cmd
}

// pinSaltCmd は登録済みのソルトを表示する。
func pinSaltCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "salt",
		Short: "Show the salt registered for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, "/v1/pin/salt", nil, http.StatusOK)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

// pinSetCmd は新しいソルトで証明値を導出して初回登録する。
func pinSetCmd() *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Enroll a transaction PIN for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			salt, err := security.NewSalt()
			if err != nil {
				return err
			}
			proof, err := security.DerivePINProof(pin, salt)
			if err != nil {
				return err
			}
			if _, err := callAPI(http.MethodPost, "/v1/pin", map[string]string{
				"pin_proof": proof,
				"salt":      salt,
			}, http.StatusCreated); err != nil {
				return err
			}
			fmt.Println("PIN enrolled")
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "6-digit PIN (required)")
	cmd.MarkFlagRequired("pin")
	return cmd
}
