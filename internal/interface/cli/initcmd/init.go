package initcmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infra/config"
)

// NewCommand creates the init command
func NewCommand() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a repairdesk.yaml with the default settings",
		Long: `Write a repairdesk.yaml holding every setting at its default value.
Environment variables prefixed with REPAIRDESK_ still override the file.`,
		RunE: func(c *cobra.Command, _ []string) error {
			if dir == "" {
				dir = "."
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			path := filepath.Join(dir, config.DefaultSettingFile)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(c.OutOrStdout(), "SKIP: %s already exists (use --force to overwrite)\n", path)
				return nil
			}
			if err := os.WriteFile(path, config.CreateDefaultSettings(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(c.OutOrStdout(), "WROTE: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to write the settings file into")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing settings file")
	return cmd
}
