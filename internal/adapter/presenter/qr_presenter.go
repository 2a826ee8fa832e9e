package presenter

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
)

// DefaultQRSize is the PNG edge length in pixels
const DefaultQRSize = 256

// QRPresenter renders signing URLs as QR codes
type QRPresenter struct {
	size  int
	level qrcode.RecoveryLevel
}

// NewQRPresenter creates a QR presenter producing size x size PNGs
func NewQRPresenter(size int) *QRPresenter {
	if size <= 0 {
		size = DefaultQRSize
	}
	return &QRPresenter{size: size, level: qrcode.Medium}
}

var _ output.QRRenderer = (*QRPresenter)(nil)

// PNG encodes content as a PNG QR code
func (p *QRPresenter) PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("qr: empty content")
	}
	png, err := qrcode.Encode(content, p.level, p.size)
	if err != nil {
		return nil, fmt.Errorf("qr: encode png: %w", err)
	}
	return png, nil
}

// Terminal renders content with half-height block characters, two
// modules per character row
func (p *QRPresenter) Terminal(content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("qr: empty content")
	}
	q, err := qrcode.New(content, p.level)
	if err != nil {
		return "", fmt.Errorf("qr: encode: %w", err)
	}
	return q.ToSmallString(false), nil
}
