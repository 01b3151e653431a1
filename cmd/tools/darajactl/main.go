package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/stk-gateway/internal/app"
	"github.com/noah-isme/stk-gateway/internal/auth"
	"github.com/noah-isme/stk-gateway/internal/config"
	"github.com/noah-isme/stk-gateway/internal/obs"
	"github.com/noah-isme/stk-gateway/internal/stk"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "darajactl",
		Short:         "Operate the M-Pesa STK gateway against Daraja",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Duration("timeout", 60*time.Second, "Overall command timeout")
	root.PersistentFlags().Bool("verbose", false, "Log to stderr")

	root.AddCommand(tokenCmd())
	root.AddCommand(pushCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(clientTokenCmd())
	return root
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Fetch a Daraja access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, ctx, cancel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			token, err := svc.Token(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"token": token})
		},
	}
}

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send an STK push to a phone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			amount, _ := cmd.Flags().GetString("amount")
			svc, ctx, cancel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			res, err := svc.InitiatePayment(ctx, stk.PushInput{
				PhoneNumber: jsonString(phone),
				Amount:      jsonScalar(amount),
			})
			if err != nil {
				return describe(err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringP("phone", "p", "", "Customer phone (07XXXXXXXX, 2547XXXXXXXX or 9 digits)")
	cmd.Flags().StringP("amount", "a", "", "Amount to charge")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the status of a checkout request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			svc, ctx, cancel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			status, err := svc.QueryStatus(ctx, stk.QueryInput{CheckoutRequestID: jsonString(id)})
			if err != nil {
				return describe(err)
			}
			if err := printJSON(cmd.OutOrStdout(), status.Data); err != nil {
				return err
			}
			if !status.Success {
				return errors.New("payment not successful")
			}
			return nil
		},
	}
	cmd.Flags().String("id", "", "CheckoutRequestID returned by push")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func clientTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client-token",
		Short: "Issue a bearer token for an API client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			clientID, _ := cmd.Flags().GetString("client")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.AuthEnabled() {
				return errors.New("API_JWT_SECRET is not set")
			}
			verifier, err := auth.NewVerifier(auth.Config{
				Secret:   cfg.APIJWTSecret,
				Issuer:   cfg.APIJWTIssuer,
				Audience: cfg.APIJWTAudience,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := verifier.Issue(clientID, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":     token,
				"expiresAt": expiresAt.UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().String("client", "", "Client identifier placed in the token subject")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func setup(cmd *cobra.Command) (*stk.Service, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := zerolog.Nop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger = obs.NewLogger("console", "debug")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return app.BuildService(cfg, logger, nil), ctx, cancel, nil
}

// describe turns service errors into operator-facing messages.
func describe(err error) error {
	var rejected *stk.RejectedError
	if errors.As(err, &rejected) {
		return fmt.Errorf("rejected by daraja: %s", rejected.ResponseDescription)
	}
	return err
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// jsonScalar keeps numeric input as a JSON number.
func jsonScalar(s string) json.RawMessage {
	var n json.Number
	if err := json.Unmarshal([]byte(s), &n); err == nil {
		return json.RawMessage(s)
	}
	return jsonString(s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
