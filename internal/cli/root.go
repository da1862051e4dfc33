package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/adapter/filestore"
	"github.com/pscheid92/tabconsole/internal/adapter/identity"
	"github.com/pscheid92/tabconsole/internal/credential"
	"github.com/pscheid92/tabconsole/internal/platform/logging"
	"github.com/pscheid92/tabconsole/internal/platform/version"
	"github.com/pscheid92/tabconsole/internal/querycache"
	"github.com/pscheid92/tabconsole/internal/session"
	"github.com/spf13/cobra"
)

const (
	defaultIdentityURL = "http://localhost:8081"
	defaultProfile     = "default"
	requestTimeout     = 10 * time.Second
)

// console is the per-invocation session of one profile.
type console struct {
	profile     string
	store       *credential.Store
	coordinator *session.Coordinator
	client      *identity.Client
	navigator   terminalNavigator
}

type options struct {
	configPath  string
	profile     string
	identityURL string
	logLevel    string
}

// Execute runs consolectl and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		return 1
	}
	return 0
}

func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	var c *console

	rootCmd := &cobra.Command{
		Use:           "consolectl",
		Short:         "Sign in, impersonate and manage users from the terminal",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			c, err = newConsole(cmd, opts, out, errOut)
			return err
		},
	}

	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", filestore.DefaultPath(), "Profile file")
	rootCmd.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "", "Profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringVar(&opts.identityURL, "identity-url", "", "Identity service URL")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	current := func() *console { return c }
	rootCmd.AddCommand(
		newSignInCmd(current),
		newWhoamiCmd(current),
		newImpersonateCmd(current),
		newUnimpersonateCmd(current),
		newLogoutCmd(current),
		newUsersCmd(current),
		newSuspendCmd(current),
		newActivateCmd(current),
	)
	return rootCmd
}

// newConsole resolves profile and identity URL with precedence flag > env > profile > default.
func newConsole(cmd *cobra.Command, opts *options, out, errOut io.Writer) (*console, error) {
	logger := logging.New(errOut, opts.logLevel, "text")

	f, err := filestore.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	profile := opts.profile
	if profile == "" {
		profile = os.Getenv("TABCONSOLE_PROFILE")
	}
	if profile == "" {
		profile = f.CurrentProfile
	}
	if profile == "" {
		profile = defaultProfile
	}

	identityURL := opts.identityURL
	if !cmd.Flags().Changed("identity-url") {
		if v := os.Getenv("TABCONSOLE_IDENTITY_URL"); v != "" {
			identityURL = v
		} else if p := f.Profiles[profile].IdentityURL; p != "" {
			identityURL = p
		} else {
			identityURL = defaultIdentityURL
		}
	}

	client := identity.NewClient(identityURL, requestTimeout, nil)
	store := credential.NewStore(filestore.NewProfileStorage(opts.configPath, profile))
	cache := querycache.New(profile, time.Minute, clockwork.NewRealClock(), nil, nil)

	navigator := terminalNavigator{out: out}

	coordinator := session.New(session.Deps{
		Store:     store,
		Identity:  client,
		Viewers:   client,
		Cache:     cache,
		Navigator: navigator,
		Logger:    logger.With("profile", profile),
	})

	return &console{profile: profile, store: store, coordinator: coordinator, client: client, navigator: navigator}, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}
