package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema and access policies",
		RunE: func(c *cobra.Command, _ []string) error {
			return withContainer(c, func(ctx context.Context, ct *di.Container) error {
				if err := ct.Migrate(ctx); err != nil {
					return err
				}
				return ct.GetPresenter().PresentSuccess("Schema is up to date", ct.Config().Store().Driver)
			})
		},
	}
}
