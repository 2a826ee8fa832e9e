package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

func newStatusCmd() *cobra.Command {
	var byRepair bool

	cmd := &cobra.Command{
		Use:   "status <intervention-id>",
		Short: "Show the signature status of an intervention",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return asTechnician(c, func(ctx context.Context, ct *di.Container) error {
				if byRepair {
					summary, err := ct.Query().LatestForRepair(ctx, args[0])
					if err != nil {
						return err
					}
					return ct.GetPresenter().PresentSuccess("Latest intervention of repair "+args[0], summary)
				}
				status, err := ct.Query().SignatureStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return ct.GetPresenter().PresentSuccess("Intervention "+args[0], status)
			})
		},
	}

	cmd.Flags().BoolVar(&byRepair, "repair", false, "Treat the argument as a repair id and show its latest intervention")
	return cmd
}
