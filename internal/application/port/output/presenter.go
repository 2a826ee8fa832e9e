package output

// Presenter defines the interface for presenting command results to users.
// Different implementations format output for a terminal or as JSON.
type Presenter interface {
	// PresentSuccess presents a successful result
	PresentSuccess(message string, data interface{}) error

	// PresentError presents an error and returns it so RunE can exit non-zero
	PresentError(err error) error
}

// QRRenderer turns a signing URL into something a customer can scan
type QRRenderer interface {
	// PNG encodes content as a QR code image
	PNG(content string) ([]byte, error)

	// Terminal renders content as a QR code drawn with block characters
	Terminal(content string) (string, error)
}
