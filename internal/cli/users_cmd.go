package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/spf13/cobra"
)

const confirmWord = "Suspend"

func newUsersCmd(current func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			cred, err := requireAdmin(cmd, c)
			if err != nil {
				return err
			}
			users, err := c.client.ListUsers(ctx, cred)
			if err != nil {
				return expireOnRejection(ctx, c, err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tSTATUS")
			for _, u := range users {
				status := "active"
				if u.IsSuspended() {
					status = "suspended"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role, status)
			}
			return w.Flush()
		},
	}
}

func newSuspendCmd(current func() *console) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "suspend USER_ID",
		Short: "Suspend a user (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			cred, err := requireAdmin(cmd, c)
			if err != nil {
				return err
			}

			if !yes {
				cmd.Printf("Suspend user %s? They will be signed out everywhere. Type %q to confirm: ", args[0], confirmWord)
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(line) != confirmWord {
					cmd.Println("Cancelled")
					return nil
				}
			}

			if _, err := c.client.SuspendUser(ctx, cred, args[0]); err != nil {
				return expireOnRejection(ctx, c, err)
			}
			cmd.Println("User suspended")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newActivateCmd(current func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "activate USER_ID",
		Short: "Reactivate a suspended user (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := current()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			cred, err := requireAdmin(cmd, c)
			if err != nil {
				return err
			}
			if _, err := c.client.ActivateUser(ctx, cred, args[0]); err != nil {
				return expireOnRejection(ctx, c, err)
			}
			cmd.Println("User activated")
			return nil
		},
	}
}

// expireOnRejection ends the session when the directory rejects the credential.
func expireOnRejection(ctx context.Context, c *console, err error) error {
	if errors.Is(err, domain.ErrAuthenticationRejected) {
		if expireErr := c.coordinator.Expire(ctx); expireErr != nil {
			return errors.Join(err, expireErr)
		}
	}
	return err
}
