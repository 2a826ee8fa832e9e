package intervention

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultMaxImageBytes bounds the decoded size of a signature image
const DefaultMaxImageBytes = 512 * 1024

var imageMagic = map[string][]byte{
	"image/png":  {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
	"image/jpeg": {0xff, 0xd8, 0xff},
}

// SignatureImage is the opaque signed image payload, kept as the data URL
// the signing page produced (data:image/png;base64,...).
type SignatureImage struct {
	dataURL string
}

// ParseSignatureImage validates a data URL and wraps it. maxBytes <= 0 uses
// DefaultMaxImageBytes.
func ParseSignatureImage(dataURL string, maxBytes int) (SignatureImage, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	dataURL = strings.TrimSpace(dataURL)
	contentType, payload, err := splitDataURL(dataURL)
	if err != nil {
		return SignatureImage{}, err
	}
	magic, ok := imageMagic[contentType]
	if !ok {
		return SignatureImage{}, fmt.Errorf("%w: unsupported content type %q", ErrInvalidImage, contentType)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+3 {
		return SignatureImage{}, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, maxBytes)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return SignatureImage{}, fmt.Errorf("%w: bad base64 payload", ErrInvalidImage)
	}
	if len(raw) == 0 || len(raw) > maxBytes {
		return SignatureImage{}, fmt.Errorf("%w: size %d out of range", ErrInvalidImage, len(raw))
	}
	if !bytes.HasPrefix(raw, magic) {
		return SignatureImage{}, fmt.Errorf("%w: payload is not %s", ErrInvalidImage, contentType)
	}
	return SignatureImage{dataURL: dataURL}, nil
}

// NewSignatureImageFromBytes builds a data URL image from raw file content
func NewSignatureImageFromBytes(raw []byte, maxBytes int) (SignatureImage, error) {
	for contentType, magic := range imageMagic {
		if bytes.HasPrefix(raw, magic) {
			return ParseSignatureImage("data:"+contentType+";base64,"+base64.StdEncoding.EncodeToString(raw), maxBytes)
		}
	}
	return SignatureImage{}, fmt.Errorf("%w: unrecognised image format", ErrInvalidImage)
}

// ReconstructSignatureImage wraps a persisted payload without re-validation
func ReconstructSignatureImage(dataURL string) SignatureImage {
	return SignatureImage{dataURL: dataURL}
}

// DataURL returns the stored payload
func (i SignatureImage) DataURL() string { return i.dataURL }

// IsZero reports whether no image is present
func (i SignatureImage) IsZero() bool { return i.dataURL == "" }

// ContentType returns the MIME type declared by the data URL
func (i SignatureImage) ContentType() string {
	ct, _, err := splitDataURL(i.dataURL)
	if err != nil {
		return "application/octet-stream"
	}
	return ct
}

// Bytes decodes the payload
func (i SignatureImage) Bytes() ([]byte, error) {
	_, payload, err := splitDataURL(i.dataURL)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(payload)
}

func splitDataURL(s string) (contentType, payload string, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", "", fmt.Errorf("%w: not a data URL", ErrInvalidImage)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: missing payload", ErrInvalidImage)
	}
	contentType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", fmt.Errorf("%w: payload must be base64", ErrInvalidImage)
	}
	return strings.ToLower(contentType), payload, nil
}
