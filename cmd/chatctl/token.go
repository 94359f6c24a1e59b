package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
	"sudooom.market.chat/pkg/jwt"
)

var (
	tokenUserID int64
	tokenRole   string
	tokenTTL    time.Duration

	revokeJTI string
	revokeTTL time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID <= 0 {
			return fmt.Errorf("--user-id is required")
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.JWT.AccessExpire
		}
		issued, err := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.Issuer, ttl).Issue(tokenUserID, tokenRole)
		if err != nil {
			return err
		}
		cmd.Println(issued.Token)
		cmd.PrintErrf("jti=%s expires=%s\n", issued.ID, issued.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an access token by its jti",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb := openRedis()
		defer rdb.Close()

		ttl := revokeTTL
		if ttl <= 0 {
			ttl = cfg.JWT.AccessExpire
		}
		if err := repository.NewTokenRepository(rdb).Revoke(cmd.Context(), revokeJTI, ttl); err != nil {
			return err
		}
		cmd.Printf("revoked %s for %s\n", revokeJTI, ttl)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user-id", 0, "user id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", model.UserRoleUser, "user role (user|admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: jwt.access_expire)")

	revokeCmd.Flags().StringVar(&revokeJTI, "jti", "", "token id")
	revokeCmd.Flags().DurationVar(&revokeTTL, "ttl", 0, "how long to remember the revocation (default: access token lifetime)")
	_ = revokeCmd.MarkFlagRequired("jti")

	tokenCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(tokenCmd)
}
