package cli

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/mattn/go-isatty"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/bundler/internal/adapters/progress"
	"github.com/trebuchet-org/bundler/internal/app"
	"github.com/trebuchet-org/bundler/internal/config"
)

// contextKey is the type for context keys
type contextKey string

const (
	// appKey is the context key for the app instance
	appKey contextKey = "app"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bundler",
		Short: "Dependency-ordered contract deployment for EVM networks",
		Long: `Bundler deploys the contracts declared in bundler.toml to a network in
dependency order, records every deployment in a lock file and verifies the
sources on block explorers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip for help/version commands
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			projectRoot, err := projectRootFor(cmd)
			if err != nil {
				return err
			}

			v := config.SetupViper(projectRoot, cmd)
			interactive := !isNonInteractive(v)
			v.Set("non_interactive", !interactive)
			sink := progress.NewSpinnerSink(cmd.OutOrStdout(), interactive)

			// Initialize app with DI
			appInstance, err := app.InitApp(v, sink)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}

			if err := selectNetwork(appInstance); err != nil {
				return err
			}

			// Store app in context
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)

			if appInstance.Config.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, appInstance.Config.Timeout)
				cmd.PostRun = func(cmd *cobra.Command, args []string) {
					cancel()
				}
			}

			cmd.SetContext(ctx)
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("network", "n", "", "Network profile to use (e.g., localhost, sepolia)")
	rootCmd.PersistentFlags().String("config", "", "Path to the project file (defaults to bundler.toml in the project root)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	rootCmd.PersistentFlags().Bool("non-interactive", false, "Disable interactive prompts")

	rootCmd.AddGroup(&cobra.Group{
		ID:    "main",
		Title: "Main Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "inspect",
		Title: "Inspection Commands",
	})

	for _, c := range []*cobra.Command{NewDeployCmd(), NewPlanCmd(), NewVerifyCmd()} {
		c.GroupID = "main"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{NewListCmd(), NewAddrCmd(), NewABICmd()} {
		c.GroupID = "inspect"
		rootCmd.AddCommand(c)
	}

	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// projectRootFor honours --config before searching upwards for a project file
func projectRootFor(cmd *cobra.Command) (string, error) {
	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		abs, err := filepath.Abs(f.Value.String())
		if err != nil {
			return "", err
		}
		return filepath.Dir(abs), nil
	}
	root, _, err := config.FindProjectRoot()
	return root, err
}

// selectNetwork asks for a network when none was given. Use cases share the
// config pointer, so the choice reaches all of them.
func selectNetwork(a *app.App) error {
	cfg := a.Config
	if cfg.Network != "" {
		return nil
	}

	networks := slices.Sorted(maps.Keys(cfg.Project.Profiles))
	if len(networks) == 0 {
		return nil
	}

	network, err := a.Prompter.SelectNetwork(networks)
	if err != nil {
		// Use cases report the missing network themselves
		a.Log.Debug("no network selected", "error", err)
		return nil
	}
	cfg.Network = network
	cfg.Profile = cfg.Project.Profiles[network]
	return nil
}

// isNonInteractive checks if the environment is non-interactive
func isNonInteractive(v *viper.Viper) bool {
	if v.GetBool("non_interactive") {
		return true
	}
	if lo.Contains([]string{"true", "1"}, os.Getenv("CI")) || os.Getenv("NO_COLOR") != "" {
		return true
	}
	return !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// getApp retrieves the app instance from the command context
func getApp(cmd *cobra.Command) (*app.App, error) {
	appInstance := cmd.Context().Value(appKey)
	if appInstance == nil {
		return nil, fmt.Errorf("app not initialized")
	}

	app, ok := appInstance.(*app.App)
	if !ok {
		return nil, fmt.Errorf("invalid app instance")
	}

	return app, nil
}
