package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/auth"
	"github.com/planwright/planwright/internal/types"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Operator tokens for the HTTP API",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint an operator token",
	Long: `Mint a signed operator token for the HTTP API. The signing secret
comes from server.jwt_secret (PLANWRIGHT_SERVER_JWT_SECRET); the token
carries the user, role, and tenant and expires after the configured TTL.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		tenant, _ := cmd.Flags().GetString("tenant")
		ttlMinutes, _ := cmd.Flags().GetInt("ttl")

		ctx := cmd.Context()
		env, err := openEnv(ctx, false)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		if env.cfg.Server.JWTSecret == "" {
			fail(fmt.Errorf("server.jwt_secret is required (set PLANWRIGHT_SERVER_JWT_SECRET)"))
		}
		ttl := env.cfg.TokenTTL()
		if ttlMinutes > 0 {
			ttl = time.Duration(ttlMinutes) * time.Minute
		}
		token, err := auth.MintToken(env.cfg.Server.JWTSecret, user, types.Role(role), tenant, ttl)
		if err != nil {
			fail(err)
		}
		cmd.Println(token)
	},
}

func init() {
	tokenMintCmd.Flags().StringP("user", "u", "", "User ID the token identifies")
	tokenMintCmd.Flags().StringP("role", "r", "operator", "Role: operator, supervisor, or admin")
	tokenMintCmd.Flags().StringP("tenant", "t", "default", "Tenant ID")
	tokenMintCmd.Flags().Int("ttl", 0, "Token lifetime in minutes (default: configured TTL)")
	_ = tokenMintCmd.MarkFlagRequired("user")

	tokenCmd.AddCommand(tokenMintCmd)
	rootCmd.AddCommand(tokenCmd)
}
