package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
	"github.com/brandon/mailcore/internal/email"
)

// openFunc builds the manager a command runs against and returns its cleanup
type openFunc func(logger *logrus.Logger) (*email.Manager, func(), error)

type app struct {
	account string
	jsonOut bool
	verbose bool

	open   openFunc
	ring   ringFunc
	logger *logrus.Logger
}

// Execute runs the root command. Failures are printed as
// {"success": false, "error": ...} and exit with status 1.
func Execute(version string) {
	root := newRootCmd(&app{open: openFromEnv, ring: openRingFromEnv}, version)
	if err := root.Execute(); err != nil {
		writeJSON(os.Stdout, failure(err))
		os.Exit(1)
	}
}

func newRootCmd(a *app, version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "mailctl",
		Short:         "mailctl reads, syncs and sends mail for the configured accounts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.logger = logrus.New()
			a.logger.SetOutput(cmd.ErrOrStderr())
			a.logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			a.logger.SetLevel(logrus.WarnLevel)
			if a.verbose {
				a.logger.SetLevel(logrus.DebugLevel)
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.account, "account", "a", "", "account name (defaults to the first configured account)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		a.testCmd(),
		a.foldersCmd(),
		a.listCmd(),
		a.showCmd(),
		a.syncCmd(),
		a.readCmd(),
		a.deleteCmd(),
		a.sendCmd(),
		a.credentialCmd(),
	)
	return root
}

// withManager opens the manager for the duration of fn
func (a *app) withManager(fn func(*email.Manager) error) error {
	mgr, cleanup, err := a.open(a.logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(mgr)
}

// openFromEnv loads configuration the same way the MCP server does
func openFromEnv(logger *logrus.Logger) (*email.Manager, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	emailCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	store := cache.NewStore(emailCache, logger)

	creds, err := credential.New(cfg)
	if err != nil {
		emailCache.Close()
		return nil, nil, err
	}

	mgr, err := email.NewManager(cfg, store, creds, logger)
	if err != nil {
		emailCache.Close()
		return nil, nil, err
	}
	return mgr, func() { emailCache.Close() }, nil
}

func failure(err error) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
