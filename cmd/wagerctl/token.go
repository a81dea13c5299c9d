package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/wager-engine/internal/auth"
)

// TokenCmd groups caller token helpers.
func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Caller authentication keys and tokens",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(
		TokenKeygenCmd(),
		TokenIssueCmd(),
	)
	return cmd
}

// TokenKeygenCmd prints a fresh token signing key pair.
func TokenKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a JWT signing key pair",
		Args:  cobra.NoArgs,
		RunE:  tokenKeygen,
	}
}

func tokenKeygen(cmd *cobra.Command, _ []string) error {
	pub, priv, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "private_key    = %q\n", auth.EncodeKey(priv))
	fmt.Fprintf(out, "jwt_public_key = %q\n", auth.EncodeKey(pub))
	return nil
}

// TokenIssueCmd mints a bearer token for one identity.
func TokenIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token whose subject is the caller identity",
		Args:  cobra.NoArgs,
		RunE:  tokenIssue,
	}
	addTokenIssueFlags(cmd)
	return cmd
}

func addTokenIssueFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("key", "k", "", "JWT private key (base64)")
	cmd.MarkFlagRequired("key")

	cmd.Flags().StringP("subject", "s", "", "caller identity")
	cmd.MarkFlagRequired("subject")

	cmd.Flags().String("issuer", "wagerctl", "token issuer")
	cmd.Flags().String("audience", "wager-engine", "token audience")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

func tokenIssue(cmd *cobra.Command, _ []string) error {
	key, _ := cmd.Flags().GetString("key")
	subject, _ := cmd.Flags().GetString("subject")
	issuer, _ := cmd.Flags().GetString("issuer")
	audience, _ := cmd.Flags().GetString("audience")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	priv, err := auth.DecodePrivateKey(key)
	if err != nil {
		return err
	}
	iss, err := auth.NewIssuer(priv, issuer, audience, ttl)
	if err != nil {
		return err
	}
	token, err := iss.Issue(subject)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
