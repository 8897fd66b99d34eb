package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barrersoftware/copilot-plugin-system/internal/adapters/auth/apikey"
)

// keyPrefix marks generated bridge keys.
const keyPrefix = "cps_"

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen [api-key]",
		Short: "Hash an API key (or generate one) for server.api_keys",
		Args:  cobra.MaximumNArgs(1),
		// Needs no config or logger.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				key = keyPrefix + hex.EncodeToString(buf)
			}
			keyHash := apikey.HashAPIKey(key)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API Key: %s\n", key)
			fmt.Fprintf(out, "SHA-256 Hash: %s\n", keyHash)
			fmt.Fprintln(out, "\nAdd this to your config.yaml:")
			fmt.Fprintln(out, "server:")
			fmt.Fprintln(out, "  api_keys:")
			fmt.Fprintf(out, "    - key_hash: %q\n", keyHash)
			fmt.Fprintf(out, "      description: %q\n", "Generated key")
			return nil
		},
	}
}
