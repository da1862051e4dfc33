package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newSignInCmd(current func() *console) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "sign-in",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			if password == "" {
				password = os.Getenv("TABCONSOLE_PASSWORD")
			}
			if password == "" {
				var err error
				if password, err = promptPassword(cmd); err != nil {
					return err
				}
			}

			viewer, err := c.coordinator.SignIn(ctx, email, password)
			if err != nil {
				return err
			}
			landing, err := c.coordinator.LandingRoute(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("Signed in as %s (%s)\n", viewer.Name, viewer.Role)
			c.navigator.Redirect(ctx, landing)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (default: $TABCONSOLE_PASSWORD or prompt)")
	return cmd
}

// promptPassword reads the password without echo when stdin is a terminal.
func promptPassword(cmd *cobra.Command) (string, error) {
	cmd.Print("Password: ")
	if fd := int(os.Stdin.Fd()); cmd.InOrStdin() == os.Stdin && term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		cmd.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newWhoamiCmd(current func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			viewer, err := c.coordinator.RequireAuthenticated(ctx)
			if err != nil {
				return err
			}
			impersonated, err := c.coordinator.IsImpersonatedSession(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("%s (%s, id %s)\n", viewer.Name, viewer.Role, viewer.ID)
			if impersonated {
				cmd.Println("Impersonated session. Run 'consolectl unimpersonate' to return.")
			}
			return nil
		},
	}
}

func newImpersonateCmd(current func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "impersonate USER_ID",
		Short: "Act as another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			if _, err := c.coordinator.RequireAuthenticated(ctx); err != nil {
				return err
			}
			if err := c.coordinator.Impersonate(ctx, args[0]); err != nil {
				return err
			}
			return printViewer(cmd, c, "Now acting as")
		},
	}
}

func newUnimpersonateCmd(current func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "unimpersonate",
		Short: "Return to the original admin session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			if err := c.coordinator.Unimpersonate(ctx); err != nil {
				return err
			}
			return printViewer(cmd, c, "Back as")
		},
	}
}

func newLogoutCmd(current func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the credential of this profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			if err := c.coordinator.Logout(ctx); err != nil {
				return err
			}
			cmd.Printf("Signed out of profile %q\n", c.profile)
			return nil
		},
	}
}

func printViewer(cmd *cobra.Command, c *console, prefix string) error {
	viewer, err := c.coordinator.Load(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("%s %s (%s)\n", prefix, viewer.Name, viewer.Role)
	return nil
}

// requireAdmin resolves the viewer and its credential for an admin-only command.
func requireAdmin(cmd *cobra.Command, c *console) (domain.Credential, error) {
	viewer, err := c.coordinator.RequireAuthenticated(cmd.Context())
	if err != nil {
		return "", err
	}
	if !viewer.IsAdmin() {
		return "", domain.ErrForbidden
	}
	return c.store.Read(cmd.Context())
}
