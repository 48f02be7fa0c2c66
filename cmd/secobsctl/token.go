package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinicops/secobs/internal/adapter/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		userID int64
		email  string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the security API",
		Long:  "Signs a bearer token with JWT_SECRET. Use --role service for the auth service posting login events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleService:
			default:
				return fmt.Errorf("invalid role %q, valid roles: admin, superadmin, service", role)
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
			if err != nil {
				return err
			}
			signed, err := tokens.Issue(userID, email, role)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "User id carried in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email carried in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Role: admin, superadmin or service")
	return cmd
}
