package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
)

// MockStorageGateway keeps artifacts in memory. It backs the "mock"
// archive type and tests; FailWith makes every save fail.
type MockStorageGateway struct {
	mu        sync.RWMutex
	artifacts map[string]*output.Artifact // key: recordID/file name
	saveErr   error
	saves     int
}

// NewMockStorageGateway creates a new mock storage gateway
func NewMockStorageGateway() *MockStorageGateway {
	return &MockStorageGateway{
		artifacts: make(map[string]*output.Artifact),
	}
}

// FailWith makes subsequent saves return err; nil restores success
func (g *MockStorageGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saveErr = err
}

// Saves returns the number of SaveArtifact calls, failed ones included
func (g *MockStorageGateway) Saves() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.saves
}

// SaveArtifact saves an artifact to mock storage
func (g *MockStorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.saves++
	if g.saveErr != nil {
		return nil, g.saveErr
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	key := artifactKey(req.RecordID, req.ArtifactType, req.ContentType)
	content := append([]byte(nil), req.Content...)
	artifact := &output.Artifact{
		Content:  content,
		Metadata: newMetadata(req, "mock://"+key, time.Now()),
	}
	g.artifacts[key] = artifact

	metadata := artifact.Metadata
	return &metadata, nil
}

// LoadArtifact retrieves an artifact from mock storage
func (g *MockStorageGateway) LoadArtifact(ctx context.Context, recordID string, artifactType output.ArtifactType) (*output.Artifact, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, a := range g.artifacts {
		if a.Metadata.RecordID == recordID && a.Metadata.Type == artifactType {
			cp := *a
			cp.Content = append([]byte(nil), a.Content...)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", output.ErrArtifactNotFound, recordID, artifactType)
}

// ListArtifacts lists artifacts for a record, sorted by type
func (g *MockStorageGateway) ListArtifacts(ctx context.Context, recordID string) ([]*output.ArtifactMetadata, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	list := []*output.ArtifactMetadata{}
	for _, a := range g.artifacts {
		if a.Metadata.RecordID == recordID {
			m := a.Metadata
			list = append(list, &m)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Type < list[j].Type })
	return list, nil
}
