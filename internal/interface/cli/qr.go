package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

func newQRCmd() *cobra.Command {
	var pngPath string

	cmd := &cobra.Command{
		Use:   "qr <intervention-id>",
		Short: "Print the signing link of an intervention as a QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return asTechnician(c, func(ctx context.Context, ct *di.Container) error {
				url, err := ct.Query().SigningURL(ctx, args[0])
				if err != nil {
					return err
				}
				if pngPath != "" {
					png, err := ct.QR().PNG(url)
					if err != nil {
						return err
					}
					if err := os.WriteFile(pngPath, png, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", pngPath, err)
					}
					return ct.GetPresenter().PresentSuccess("QR code written to "+pngPath, url)
				}
				art, err := ct.QR().Terminal(url)
				if err != nil {
					return err
				}
				fmt.Fprint(c.OutOrStdout(), art)
				return ct.GetPresenter().PresentSuccess("Signing link", url)
			})
		},
	}

	cmd.Flags().StringVar(&pngPath, "png", "", "Write a PNG to this path instead of printing to the terminal")
	return cmd
}
