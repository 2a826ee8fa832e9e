package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	infraConfig "github.com/YoshitsuguKoike/repairdesk/internal/infra/config"
	"github.com/YoshitsuguKoike/repairdesk/internal/interface/cli/common"
	"github.com/YoshitsuguKoike/repairdesk/internal/interface/cli/initcmd"
	"github.com/YoshitsuguKoike/repairdesk/internal/interface/cli/version"
)

// skipConfig marks commands that run without loading repairdesk.yaml
const skipConfig = "skip-config"

func NewRoot() *cobra.Command {
	var (
		configPath   string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "repairdesk",
		Short: "Remote customer signatures for repair intervention reports",
		Long: `repairdesk issues signing links for repair intervention reports,
serves the customer signing page and tracks each signature until it lands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if c.Annotations[skipConfig] == "true" {
				return nil
			}
			if outputFormat != common.OutputCLI && outputFormat != common.OutputJSON {
				return fmt.Errorf("--output must be %s or %s, got %q", common.OutputCLI, common.OutputJSON, outputFormat)
			}

			// Priority: REPAIRDESK_* env > repairdesk.yaml > defaults
			cfg, err := infraConfig.LoadSettings(configPath)
			if err != nil {
				return err
			}
			if err := infraConfig.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			app.SetLogger(app.NewLogger(app.ParseLogLevel(cfg.LogLevel()), c.ErrOrStderr()))
			app.GetLogger().Debug("configuration loaded from %s %s", cfg.ConfigSource(), cfg.SettingPath())
			common.SetRuntime(cfg, outputFormat)
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default $REPAIRDESK_CONFIG or ./repairdesk.yaml)")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", common.OutputCLI, "Output format (cli, json)")

	versionCmd := version.NewCommand()
	initCmd := initcmd.NewCommand()
	for _, c := range []*cobra.Command{versionCmd, initCmd} {
		c.Annotations = map[string]string{skipConfig: "true"}
	}

	cmd.AddCommand(
		initCmd,
		versionCmd,
		newServeCmd(),
		newMigrateCmd(),
		newRequestCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newQRCmd(),
		newSignCmd(),
		newSweepCmd(),
		newArchiveCmd(),
	)
	return cmd
}

// Execute runs the root command until it returns or the process is
// interrupted, and returns the exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		var pe presentedError
		if !errors.As(err, &pe) {
			fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		}
		return 1
	}
	return 0
}
