package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived signed reports",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls <intervention-id>",
		Short: "List the archived artifacts of an intervention",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return asTechnician(c, func(ctx context.Context, ct *di.Container) error {
				arts, err := ct.Resolver().ListArchived(ctx, args[0])
				if err != nil {
					return err
				}
				return ct.GetPresenter().PresentSuccess("Archived artifacts of "+args[0], arts)
			})
		},
	})
	return cmd
}
