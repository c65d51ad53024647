package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/examcore/internal/service"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an identity token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := loadConfig(cmd)
			v := viperForCmd(cmd)

			role := service.Role(v.GetString("role"))
			if role != service.RoleParticipant && role != service.RoleGrader {
				return fmt.Errorf("role must be %q or %q", service.RoleParticipant, service.RoleGrader)
			}

			tok, err := service.NewAuthService(cfg).GenerateToken(service.Identity{
				Subject:   v.GetString("subject"),
				TenantRef: v.GetString("tenant"),
				Role:      role,
			}, v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("subject", "", "Participant or grader reference (required)")
	f.String("tenant", "", "Tenant reference (required)")
	f.String("role", string(service.RoleParticipant), "participant or grader")
	f.Duration("ttl", 4*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
