// Command token mints JWTs signed with the API's JWT_SECRET. Operators use it to
// provision the dialer and engagement integrations, and to get agent tokens in local/dev.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"callcenter/internal/auth"
	"callcenter/internal/config"
	"callcenter/internal/rbac"
)

func main() {
	if err := newRootCmd(config.LoadAuth, time.Now).Execute(); err != nil {
		os.Exit(1)
	}
}

type loadFunc func() (config.AuthConfig, error)

func newRootCmd(load loadFunc, now func() time.Time) *cobra.Command {
	root := &cobra.Command{
		Use:           "token",
		Short:         "Mint access and service tokens for the call center API",
		SilenceUsage:  true,
	}

	manager := func() (*auth.Manager, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		return auth.NewManager(cfg)
	}

	root.AddCommand(newServiceCmd(manager, now), newAccessCmd(manager, now))
	return root
}

func newServiceCmd(manager func() (*auth.Manager, error), now func() time.Time) *cobra.Command {
	return &cobra.Command{
		Use:   "service <name>",
		Short: "Mint an integration token (dialer, engagement tracker)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			tok, err := m.IssueService(now(), args[0])
			if err != nil {
				return err
			}
			return printToken(cmd.OutOrStdout(), tok)
		},
	}
}

func newAccessCmd(manager func() (*auth.Manager, error), now func() time.Time) *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Mint a user access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin, rbac.RoleSuperAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			m, err := manager()
			if err != nil {
				return err
			}
			tok, err := m.IssueAccess(now(), auth.Identity{UserID: userID, Role: role})
			if err != nil {
				return err
			}
			return printToken(cmd.OutOrStdout(), tok)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (the rep ID for agents)")
	cmd.Flags().StringVar(&role, "role", rbac.RoleAgent, "agent, supervisor, admin or super_admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printToken(w io.Writer, tok string) error {
	_, err := fmt.Fprintln(w, tok)
	return err
}
