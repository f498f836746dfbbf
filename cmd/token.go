package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/api"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	Long: `Sign an HS256 JWT with auth.jwt_secret for use as
"Authorization: Bearer <token>" against 'prreview serve'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tokenRun()
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime (0 for no expiry)")
	rootCmd.AddCommand(tokenCmd)
}

func tokenRun() error {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		return fmt.Errorf("auth.jwt_secret is not set (set PRREVIEW_AUTH_JWT_SECRET or run 'prreview config edit')")
	}
	tok, err := api.NewToken(secret, viper.GetString("auth.subject"), tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out, tok)
	return nil
}
