package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/parley/internal/auth"
)

var tokenTTL time.Duration

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token <userID>",
	Short: "Mint a bearer token for a user",
	Long: `Mint a bearer token signed with PARLEY_JWT_SECRET.

The token is accepted by both the REST API (Authorization: Bearer <token>)
and the websocket endpoint (?token=<token> or the authenticate event).

Examples:
  parley-cli token alice
  parley-cli token alice --ttl 15m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.GetTokenTTL()
		}
		token, err := auth.NewSigner([]byte(cfg.GetJWTSecret())).Generate(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to PARLEY_TOKEN_TTL)")
	rootCmd.AddCommand(tokenCmd)
}
