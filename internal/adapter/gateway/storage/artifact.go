package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
)

// metadataSuffix is appended to an artifact's object name for its sidecar
const metadataSuffix = ".meta.json"

func validateRequest(req output.SaveArtifactRequest) error {
	if strings.TrimSpace(req.RecordID) == "" {
		return fmt.Errorf("save artifact: missing record id")
	}
	if strings.ContainsAny(req.RecordID, `/\`) || strings.Contains(req.RecordID, "..") {
		return fmt.Errorf("save artifact: invalid record id %q", req.RecordID)
	}
	switch req.ArtifactType {
	case output.ArtifactTypeSignature, output.ArtifactTypeReport:
	default:
		return fmt.Errorf("save artifact: unknown artifact type %q", req.ArtifactType)
	}
	if len(req.Content) == 0 {
		return fmt.Errorf("save artifact: empty content")
	}
	return nil
}

// artifactKey builds <recordID>/<file name>, relative to the archive root
func artifactKey(recordID string, t output.ArtifactType, contentType string) string {
	return path.Join(recordID, t.FileName(contentType))
}

func newMetadata(req output.SaveArtifactRequest, storagePath string, now time.Time) output.ArtifactMetadata {
	sum := sha256.Sum256(req.Content)
	return output.ArtifactMetadata{
		RecordID:    req.RecordID,
		ShopID:      req.ShopID,
		Type:        req.ArtifactType,
		StoragePath: storagePath,
		ContentType: req.ContentType,
		Size:        int64(len(req.Content)),
		SHA256:      hex.EncodeToString(sum[:]),
		UploadedAt:  now.UTC(),
		Metadata:    req.Metadata,
	}
}
