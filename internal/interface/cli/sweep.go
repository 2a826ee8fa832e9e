package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Persist expired status for signing links past their expiry",
		RunE: func(c *cobra.Command, _ []string) error {
			return withContainer(c, func(ctx context.Context, ct *di.Container) error {
				if tctx, err := ct.TechnicianContext(ctx); err == nil {
					ctx = tctx
				}
				w := ct.NewWorkflow()
				defer w.Close()

				n, err := w.Sweep(ctx)
				if err != nil {
					return err
				}
				return ct.GetPresenter().PresentSuccess(fmt.Sprintf("Marked %d intervention(s) expired", n), nil)
			})
		},
	}
}
