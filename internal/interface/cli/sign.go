package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/di"
)

func newSignCmd() *cobra.Command {
	var imagePath string

	cmd := &cobra.Command{
		Use:   "sign <token>",
		Short: "Sign a report with an image file, as the customer would",
		Long: `Submit a PNG or JPEG signature image for a signing token. This runs the
same checks as the signing page and is meant for assisted signing in the shop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dataURL, err := imageDataURL(imagePath)
			if err != nil {
				return err
			}
			return withContainer(c, func(ctx context.Context, ct *di.Container) error {
				res, err := ct.Resolver().Submit(ctx, args[0], dataURL)
				if err != nil {
					return err
				}
				return ct.GetPresenter().PresentSuccess("Signature recorded", res)
			})
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Signature image (PNG or JPEG)")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// imageDataURL reads an image file into a data URL. The content type is
// sniffed; the signature parser decides whether it is acceptable.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read signature image: %w", err)
	}
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
