package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// S3StorageGateway implements StorageGateway using AWS S3
// Bucket structure: s3://<bucket>/<prefix>/<recordID>/
//   - signature.png / report.json: artifact content
//   - <name>.meta.json: artifact metadata
type S3StorageGateway struct {
	client     S3API
	bucketName string
	prefix     string
	clock      clock.Clock
}

// S3Config holds S3 storage gateway configuration
type S3Config struct {
	BucketName string // S3 bucket name
	Prefix     string // Optional key prefix
	Region     string // AWS region (optional, uses default if empty)
}

// NewS3StorageGateway creates a gateway using the default AWS credential chain
func NewS3StorageGateway(ctx context.Context, cfg S3Config) (*S3StorageGateway, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("s3 archive: bucket name is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3StorageGatewayWithClient(s3.NewFromConfig(awsCfg), cfg.BucketName, cfg.Prefix, nil), nil
}

// NewS3StorageGatewayWithClient creates a gateway over a custom S3 client
func NewS3StorageGatewayWithClient(client S3API, bucketName, prefix string, clk clock.Clock) *S3StorageGateway {
	if clk == nil {
		clk = clock.System{}
	}
	return &S3StorageGateway{
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		clock:      clk,
	}
}

// SaveArtifact uploads content and then its metadata object
func (g *S3StorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	contentKey := g.buildKey(artifactKey(req.RecordID, req.ArtifactType, req.ContentType))
	metadata := newMetadata(req, fmt.Sprintf("s3://%s/%s", g.bucketName, contentKey), g.clock.Now())

	objectMetadata := map[string]string{
		"record-id":     req.RecordID,
		"artifact-type": string(req.ArtifactType),
		"sha256":        metadata.SHA256,
	}
	if req.ShopID != "" {
		objectMetadata["shop-id"] = req.ShopID
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucketName),
		Key:         aws.String(contentKey),
		Body:        bytes.NewReader(req.Content),
		ContentType: aws.String(contentType),
		Metadata:    objectMetadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upload to S3: %w", err)
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucketName),
		Key:         aws.String(contentKey + metadataSuffix),
		Body:        bytes.NewReader(metadataJSON),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload metadata to S3: %w", err)
	}
	return &metadata, nil
}

// LoadArtifact downloads one artifact of a record
func (g *S3StorageGateway) LoadArtifact(ctx context.Context, recordID string, artifactType output.ArtifactType) (*output.Artifact, error) {
	list, err := g.ListArtifacts(ctx, recordID)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		if m.Type != artifactType {
			continue
		}
		key := strings.TrimPrefix(m.StoragePath, "s3://"+g.bucketName+"/")
		content, err := g.getObject(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("download content from S3: %w", err)
		}
		return &output.Artifact{Content: content, Metadata: *m}, nil
	}
	return nil, fmt.Errorf("%w: %s %s", output.ErrArtifactNotFound, recordID, artifactType)
}

// ListArtifacts lists a record's artifacts, sorted by type
func (g *S3StorageGateway) ListArtifacts(ctx context.Context, recordID string) ([]*output.ArtifactMetadata, error) {
	prefix := g.buildKey(recordID) + "/"
	list := []*output.ArtifactMetadata{}

	var token *string
	for {
		page, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(g.bucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, metadataSuffix) {
				continue
			}
			metadataJSON, err := g.getObject(ctx, key)
			if err != nil {
				// Skip artifacts with download errors
				continue
			}
			var metadata output.ArtifactMetadata
			if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
				continue
			}
			list = append(list, &metadata)
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Type < list[j].Type })
	return list, nil
}

func (g *S3StorageGateway) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", output.ErrArtifactNotFound, key)
		}
		return nil, err
	}
	defer obj.Body.Close()
	return io.ReadAll(obj.Body)
}

// buildKey joins parts under the configured prefix
func (g *S3StorageGateway) buildKey(parts ...string) string {
	if g.prefix != "" {
		parts = append([]string{g.prefix}, parts...)
	}
	return path.Join(parts...)
}
