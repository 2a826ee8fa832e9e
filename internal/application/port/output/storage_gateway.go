package output

import (
	"context"
	"errors"
	"time"
)

// StorageGateway archives signed intervention artifacts.
// Supports local filesystem and S3 backends.
type StorageGateway interface {
	// SaveArtifact stores an artifact under its record; saving the same
	// record and type again overwrites the previous copy
	SaveArtifact(ctx context.Context, req SaveArtifactRequest) (*ArtifactMetadata, error)

	// LoadArtifact retrieves one artifact of a record
	LoadArtifact(ctx context.Context, recordID string, artifactType ArtifactType) (*Artifact, error)

	// ListArtifacts lists the artifacts archived for a record
	ListArtifacts(ctx context.Context, recordID string) ([]*ArtifactMetadata, error)
}

// ErrArtifactNotFound is returned by LoadArtifact for a missing artifact
var ErrArtifactNotFound = errors.New("artifact not found")

// SaveArtifactRequest represents a request to save an artifact
type SaveArtifactRequest struct {
	RecordID     string            // Intervention record ID
	ShopID       string            // Owning shop
	ArtifactType ArtifactType      // Type of artifact
	Content      []byte            // Artifact content
	Metadata     map[string]string // Additional metadata
	ContentType  string            // MIME type (optional)
}

// ArtifactType represents the type of artifact
type ArtifactType string

const (
	ArtifactTypeSignature ArtifactType = "signature" // Signature image
	ArtifactTypeReport    ArtifactType = "report"    // Signed report JSON
)

// FileName returns the object name an artifact type is stored under
func (t ArtifactType) FileName(contentType string) string {
	switch t {
	case ArtifactTypeSignature:
		if contentType == "image/jpeg" {
			return "signature.jpg"
		}
		return "signature.png"
	case ArtifactTypeReport:
		return "report.json"
	}
	return string(t)
}

// Artifact represents a stored artifact
type Artifact struct {
	Content  []byte           // Artifact content
	Metadata ArtifactMetadata // Artifact metadata
}

// ArtifactMetadata contains information about an artifact
type ArtifactMetadata struct {
	RecordID    string            `json:"record_id"`
	ShopID      string            `json:"shop_id,omitempty"`
	Type        ArtifactType      `json:"type"`
	StoragePath string            `json:"storage_path"` // e.g. s3://bucket/key
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	SHA256      string            `json:"sha256"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
