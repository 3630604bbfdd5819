package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/config"
	"docchat/internal/pkg/jwtutil"
)

// newTokenCmd signs a development token with the server's configured secret.
func newTokenCmd() *cobra.Command {
	var (
		userID   uint
		username string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token from the local server config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == 0 {
				return errors.New("--user-id is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
			}
			token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, ttl, userID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user id to embed in the token")
	cmd.Flags().StringVar(&username, "username", "", "username to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.jwt_expire_minute)")
	return cmd
}
