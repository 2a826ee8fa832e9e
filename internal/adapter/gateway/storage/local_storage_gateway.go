package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// LocalStorageGateway implements StorageGateway on an afero filesystem
// Directory structure: <baseDir>/<recordID>/
//   - signature.png / report.json: artifact content
//   - <name>.meta.json: artifact metadata
type LocalStorageGateway struct {
	fs      afero.Fs
	baseDir string
	clock   clock.Clock
}

// NewLocalStorageGateway creates a filesystem-backed gateway rooted at baseDir
func NewLocalStorageGateway(fs afero.Fs, baseDir string, clk clock.Clock) (*LocalStorageGateway, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if err := fs.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &LocalStorageGateway{fs: fs, baseDir: baseDir, clock: clk}, nil
}

// SaveArtifact writes content and its metadata sidecar
func (g *LocalStorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentPath := filepath.Join(g.baseDir, filepath.FromSlash(artifactKey(req.RecordID, req.ArtifactType, req.ContentType)))
	if err := g.fs.MkdirAll(filepath.Dir(contentPath), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	if err := g.writeAtomic(contentPath, req.Content); err != nil {
		return nil, fmt.Errorf("write artifact content: %w", err)
	}

	metadata := newMetadata(req, contentPath, g.clock.Now())
	metadataJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := g.writeAtomic(contentPath+metadataSuffix, metadataJSON); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	return &metadata, nil
}

// writeAtomic writes to a temp file and renames it into place
func (g *LocalStorageGateway) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(g.fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := g.fs.Rename(tmp, path); err != nil {
		_ = g.fs.Remove(tmp)
		return err
	}
	return nil
}

// LoadArtifact reads one artifact of a record
func (g *LocalStorageGateway) LoadArtifact(ctx context.Context, recordID string, artifactType output.ArtifactType) (*output.Artifact, error) {
	list, err := g.ListArtifacts(ctx, recordID)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		if m.Type != artifactType {
			continue
		}
		content, err := afero.ReadFile(g.fs, m.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		return &output.Artifact{Content: content, Metadata: *m}, nil
	}
	return nil, fmt.Errorf("%w: %s %s", output.ErrArtifactNotFound, recordID, artifactType)
}

// ListArtifacts lists artifacts archived for a record, sorted by type
func (g *LocalStorageGateway) ListArtifacts(ctx context.Context, recordID string) ([]*output.ArtifactMetadata, error) {
	dir := filepath.Join(g.baseDir, recordID)
	entries, err := afero.ReadDir(g.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*output.ArtifactMetadata{}, nil
		}
		return nil, fmt.Errorf("read record archive directory: %w", err)
	}

	list := []*output.ArtifactMetadata{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metadataSuffix) {
			continue
		}
		metadataJSON, err := afero.ReadFile(g.fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			// Skip artifacts with unreadable metadata
			continue
		}
		var metadata output.ArtifactMetadata
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			continue
		}
		list = append(list, &metadata)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Type < list[j].Type })
	return list, nil
}
