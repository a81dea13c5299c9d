package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/wager-engine/internal/api"
	"github.com/atmx/wager-engine/internal/vrf"
)

// OracleCmd groups randomness oracle helpers.
func OracleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Randomness oracle keys and proofs",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(
		OracleKeygenCmd(),
		OracleProveCmd(),
	)
	return cmd
}

// OracleKeygenCmd prints a fresh oracle key pair.
func OracleKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an oracle signing key and its public key",
		Args:  cobra.NoArgs,
		RunE:  oracleKeygen,
	}
}

func oracleKeygen(cmd *cobra.Command, _ []string) error {
	signer := vrf.GenerateSigner()
	priv, err := signer.MarshalHex()
	if err != nil {
		return err
	}
	pub, err := signer.PublicHex()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "signing_key = %q\n", priv)
	fmt.Fprintf(out, "public_key  = %q\n", pub)
	return nil
}

// OracleProveCmd answers one randomness request, optionally posting the
// proof to a running server.
func OracleProveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Sign a randomness request and print (or submit) the outcome and proof",
		Args:  cobra.NoArgs,
		RunE:  oracleProve,
	}
	addOracleProveFlags(cmd)
	return cmd
}

func addOracleProveFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("key", "k", "", "oracle signing key (hex)")
	cmd.MarkFlagRequired("key")

	cmd.Flags().StringP("game", "g", "", "game id")
	cmd.MarkFlagRequired("game")

	cmd.Flags().StringP("request", "r", "", "randomness request id")
	cmd.MarkFlagRequired("request")

	cmd.Flags().StringP("server", "s", "", "server base URL; when set the proof is posted to it")
}

func oracleProve(cmd *cobra.Command, _ []string) error {
	key, _ := cmd.Flags().GetString("key")
	gameID, _ := cmd.Flags().GetString("game")
	requestID, _ := cmd.Flags().GetString("request")
	server, _ := cmd.Flags().GetString("server")

	signer, err := vrf.LoadSigner(key)
	if err != nil {
		return err
	}
	outcome, proof, err := signer.Prove(gameID, requestID)
	if err != nil {
		return err
	}
	req := api.FulfillRequest{
		Outcome: strconv.FormatUint(outcome, 10),
		Proof:   hex.EncodeToString(proof),
	}
	if server == "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return postFulfill(ctx, server, requestID, req, cmd.OutOrStdout())
}

func postFulfill(ctx context.Context, server, requestID string, req api.FulfillRequest, out io.Writer) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := strings.TrimRight(server, "/") + "/api/v1/randomness/" + requestID + "/fulfill"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post fulfill: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fulfill rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	fmt.Fprintf(out, "fulfilled %s with outcome %s\n", requestID, req.Outcome)
	return nil
}
