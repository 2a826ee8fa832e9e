package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
	"github.com/YoshitsuguKoike/repairdesk/internal/interface/cli/common"
)

// presentedError is a failure the presenter has already shown
type presentedError struct{ err error }

func (e presentedError) Error() string { return e.err.Error() }
func (e presentedError) Unwrap() error { return e.err }

// withContainer opens the application for one command, runs fn and
// presents its failure
func withContainer(c *cobra.Command, fn func(ctx context.Context, ct *di.Container) error) error {
	ctx := c.Context()
	ct, err := common.OpenContainer(ctx, c.OutOrStdout())
	if err != nil {
		return err
	}
	defer ct.Close()

	if err := fn(ctx, ct); err != nil {
		_ = ct.GetPresenter().PresentError(err)
		return presentedError{err}
	}
	return nil
}

// asTechnician runs fn as the configured CLI technician
func asTechnician(c *cobra.Command, fn func(ctx context.Context, ct *di.Container) error) error {
	return withContainer(c, func(ctx context.Context, ct *di.Container) error {
		tctx, err := ct.TechnicianContext(ctx)
		if err != nil {
			return err
		}
		return fn(tctx, ct)
	})
}
