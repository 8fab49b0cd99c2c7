package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"payment-auth-service/internal/usecase"
)

// qrCodeView はAPIレスポンスの表示用。
type qrCodeView struct {
	Code        string           `json:"code"`
	MerchantTag string           `json:"merchant_tag"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Status      string           `json:"status"`
	ExpiresAt   string           `json:"expires_at"`
	Payload     string           `json:"payload"`
}

func amountText(a *decimal.Decimal) string {
	if a == nil {
		return "open"
	}
	return a.StringFixed(2)
}

// qrCmd はQR決済コード関連のコマンド。
func qrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Manage QR payment codes",
	}
	cmd.AddCommand(qrGenerateCmd())
	cmd.AddCommand(qrValidateCmd())
	cmd.AddCommand(qrRedeemCmd())
	cmd.AddCommand(qrRevokeCmd())
	cmd.AddCommand(qrHistoryCmd())
	cmd.AddCommand(qrDecodeCmd())
	return cmd
}

// qrGenerateCmd は呼び出し元加盟店としてコードを発行する。
func qrGenerateCmd() *cobra.Command {
	var amount, description string
	var ttl int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a QR payment code",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"description": description, "ttl_minutes": ttl}
			if amount != "" {
				a, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
				req["amount"] = a
			}

			body, err := callAPI(http.MethodPost, "/v1/qr-codes", req, http.StatusCreated)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}

			var c qrCodeView
			if err := json.Unmarshal(body, &c); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Generated code %s (amount: %s, expires: %s)\n", c.Code, amountText(c.Amount), c.ExpiresAt)
			fmt.Println(c.Payload)
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Fixed amount (omit for an open-amount code)")
	cmd.Flags().StringVar(&description, "description", "", "Description shown to the payer")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Validity in minutes (defaults to the server setting)")
	return cmd
}

// qrValidateCmd は決済前にコードの内容を表示する。
func qrValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <code>",
		Short: "Show the details of a QR payment code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, "/v1/qr-codes/"+url.PathEscape(args[0]), nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}

			var c qrCodeView
			if err := json.Unmarshal(body, &c); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Merchant:    %s\n", c.MerchantTag)
			fmt.Printf("Amount:      %s\n", amountText(c.Amount))
			fmt.Printf("Description: %s\n", c.Description)
			fmt.Printf("Expires at:  %s\n", c.ExpiresAt)
			return nil
		},
	}
}

// qrRedeemCmd は呼び出し元を支払者としてコードを利用する。PINは端末内で導出する。
func qrRedeemCmd() *cobra.Command {
	var amount, pin string
	cmd := &cobra.Command{
		Use:   "redeem <code>",
		Short: "Pay a QR payment code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			proof, err := proofFromServerSalt(pin)
			if err != nil {
				return err
			}

			body, err := callAPI(http.MethodPost, "/v1/qr-codes/"+url.PathEscape(args[0])+"/redeem", map[string]any{
				"amount":    a,
				"pin_proof": proof,
			}, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			fmt.Printf("Paid %s to merchant for code %s\n", a.StringFixed(2), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to pay (required)")
	cmd.Flags().StringVar(&pin, "pin", "", "Transaction PIN (required)")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("pin")
	return cmd
}

// qrRevokeCmd は発行加盟店としてコードを取り消す。
func qrRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <code>",
		Short: "Revoke an active QR payment code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := callAPI(http.MethodDelete, "/v1/qr-codes/"+url.PathEscape(args[0]), nil, http.StatusNoContent); err != nil {
				return err
			}
			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Printf("Revoked code %s\n", args[0])
			}
			return nil
		},
	}
}

// qrHistoryCmd は呼び出し元加盟店のコード一覧を表示する。
func qrHistoryCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List QR payment codes issued by the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/qr-codes"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}

			var result struct {
				Codes []qrCodeView `json:"codes"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CODE\tAMOUNT\tSTATUS\tEXPIRES AT")
			for _, c := range result.Codes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Code, amountText(c.Amount), c.Status, c.ExpiresAt)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: active, used, expired, revoked")
	return cmd
}

// qrDecodeCmd はスキャンしたペイロードをオフラインで解析する。
func qrDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <payload>",
		Short: "Decode a scanned QR payload without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := usecase.DecodePayload(args[0])
			if err != nil {
				return err
			}
			if output == "json" {
				b, err := json.Marshal(p)
				if err != nil {
					return err
				}
				fmt.Println(string(b))
				return nil
			}
			fmt.Printf("Code:        %s\n", p.Code)
			fmt.Printf("Merchant:    %s\n", p.MerchantTag)
			fmt.Printf("Amount:      %s\n", amountText(p.FixedAmount))
			fmt.Printf("Generated:   %s\n", p.GeneratedAt.Format(time.RFC3339))
			fmt.Printf("Expires at:  %s\n", p.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
