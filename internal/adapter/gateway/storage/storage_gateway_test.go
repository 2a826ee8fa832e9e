package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/testutil"
)

var archivedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func signatureRequest(recordID string) output.SaveArtifactRequest {
	return output.SaveArtifactRequest{
		RecordID:     recordID,
		ShopID:       "shop-1",
		ArtifactType: output.ArtifactTypeSignature,
		Content:      testutil.PNGBytes("sig"),
		ContentType:  "image/png",
	}
}

func reportRequest(recordID string) output.SaveArtifactRequest {
	return output.SaveArtifactRequest{
		RecordID:     recordID,
		ShopID:       "shop-1",
		ArtifactType: output.ArtifactTypeReport,
		Content:      []byte(`{"client_name":"Ana Lopez"}`),
		ContentType:  "application/json",
		Metadata:     map[string]string{"signed_at": archivedAt.Format(time.RFC3339)},
	}
}

// gateways returns every implementation under a name, all sharing one contract
func gateways(t *testing.T) map[string]output.StorageGateway {
	t.Helper()
	fixed := testutil.NewFakeClock(archivedAt)

	local, err := NewLocalStorageGateway(afero.NewMemMapFs(), "/archive", fixed)
	require.NoError(t, err)

	return map[string]output.StorageGateway{
		"local": local,
		"s3":    NewS3StorageGatewayWithClient(newMockS3Client(), "bucket", "interventions", fixed),
		"mock":  NewMockStorageGateway(),
	}
}

func TestStorageGateway_SaveLoadList(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sig, err := gw.SaveArtifact(ctx, signatureRequest("01REC"))
			require.NoError(t, err)
			assert.Equal(t, "01REC", sig.RecordID)
			assert.Equal(t, output.ArtifactTypeSignature, sig.Type)
			assert.Equal(t, int64(len(testutil.PNGBytes("sig"))), sig.Size)
			assert.Len(t, sig.SHA256, 64)

			_, err = gw.SaveArtifact(ctx, reportRequest("01REC"))
			require.NoError(t, err)
			_, err = gw.SaveArtifact(ctx, reportRequest("01OTHER"))
			require.NoError(t, err)

			list, err := gw.ListArtifacts(ctx, "01REC")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, output.ArtifactTypeReport, list[0].Type)
			assert.Equal(t, output.ArtifactTypeSignature, list[1].Type)

			a, err := gw.LoadArtifact(ctx, "01REC", output.ArtifactTypeReport)
			require.NoError(t, err)
			assert.JSONEq(t, `{"client_name":"Ana Lopez"}`, string(a.Content))
			assert.Equal(t, "shop-1", a.Metadata.ShopID)
			assert.Equal(t, archivedAt.Format(time.RFC3339), a.Metadata.Metadata["signed_at"])
		})
	}
}

func TestStorageGateway_SaveOverwrites(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := gw.SaveArtifact(ctx, signatureRequest("01REC"))
			require.NoError(t, err)

			again := signatureRequest("01REC")
			again.Content = testutil.PNGBytes("second")
			_, err = gw.SaveArtifact(ctx, again)
			require.NoError(t, err)

			list, err := gw.ListArtifacts(ctx, "01REC")
			require.NoError(t, err)
			require.Len(t, list, 1)

			a, err := gw.LoadArtifact(ctx, "01REC", output.ArtifactTypeSignature)
			require.NoError(t, err)
			assert.Equal(t, testutil.PNGBytes("second"), a.Content)
		})
	}
}

func TestStorageGateway_NotFoundAndEmpty(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			list, err := gw.ListArtifacts(ctx, "01NONE")
			require.NoError(t, err)
			assert.Empty(t, list)

			_, err = gw.LoadArtifact(ctx, "01NONE", output.ArtifactTypeSignature)
			assert.ErrorIs(t, err, output.ErrArtifactNotFound)
		})
	}
}

func TestStorageGateway_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*output.SaveArtifactRequest)
	}{
		{"missing record", func(r *output.SaveArtifactRequest) { r.RecordID = " " }},
		{"path traversal", func(r *output.SaveArtifactRequest) { r.RecordID = "../etc" }},
		{"unknown type", func(r *output.SaveArtifactRequest) { r.ArtifactType = "log" }},
		{"empty content", func(r *output.SaveArtifactRequest) { r.Content = nil }},
	}
	for name, gw := range gateways(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				req := signatureRequest("01REC")
				tt.mutate(&req)
				_, err := gw.SaveArtifact(context.Background(), req)
				assert.Error(t, err)
			})
		}
	}
}

func TestLocalStorageGateway_Layout(t *testing.T) {
	fs := afero.NewMemMapFs()
	gw, err := NewLocalStorageGateway(fs, "/archive", testutil.NewFakeClock(archivedAt))
	require.NoError(t, err)

	req := signatureRequest("01REC")
	req.ContentType = "image/jpeg"
	meta, err := gw.SaveArtifact(context.Background(), req)
	require.NoError(t, err)

	want := filepath.Join("/archive", "01REC", "signature.jpg")
	assert.Equal(t, want, meta.StoragePath)
	for _, p := range []string{want, want + metadataSuffix} {
		ok, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
	ok, err := afero.Exists(fs, want+".tmp")
	require.NoError(t, err)
	assert.False(t, ok, "temp file must be renamed away")
	assert.True(t, meta.UploadedAt.Equal(archivedAt))
}

func TestS3StorageGateway_KeysAndObjectMetadata(t *testing.T) {
	client := newMockS3Client()
	gw := NewS3StorageGatewayWithClient(client, "bucket", "/interventions/", nil)

	meta, err := gw.SaveArtifact(context.Background(), signatureRequest("01REC"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/interventions/01REC/signature.png", meta.StoragePath)
	assert.Equal(t, 2, client.count())

	obj, ok := client.object("interventions/01REC/signature.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", obj.contentType)
	assert.Equal(t, "01REC", obj.metadata["record-id"])
	assert.Equal(t, "shop-1", obj.metadata["shop-id"])
	assert.Equal(t, meta.SHA256, obj.metadata["sha256"])

	_, ok = client.object("interventions/01REC/signature.png" + metadataSuffix)
	assert.True(t, ok)
}

func TestS3StorageGateway_ListFollowsPagination(t *testing.T) {
	client := newMockS3Client()
	client.pageSize = 1
	gw := NewS3StorageGatewayWithClient(client, "bucket", "", nil)
	ctx := context.Background()

	_, err := gw.SaveArtifact(ctx, signatureRequest("01REC"))
	require.NoError(t, err)
	_, err = gw.SaveArtifact(ctx, reportRequest("01REC"))
	require.NoError(t, err)

	list, err := gw.ListArtifacts(ctx, "01REC")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 4, client.lists, "one page per object")
}

func TestS3StorageGateway_PutFailure(t *testing.T) {
	client := newMockS3Client()
	client.putErr = errors.New("access denied")
	gw := NewS3StorageGatewayWithClient(client, "bucket", "", nil)

	_, err := gw.SaveArtifact(context.Background(), signatureRequest("01REC"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload to S3")
}

func TestMockStorageGateway_FailWith(t *testing.T) {
	gw := NewMockStorageGateway()
	gw.FailWith(errors.New("disk full"))

	_, err := gw.SaveArtifact(context.Background(), signatureRequest("01REC"))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, gw.Saves())

	gw.FailWith(nil)
	_, err = gw.SaveArtifact(context.Background(), signatureRequest("01REC"))
	assert.NoError(t, err)
	assert.Equal(t, 2, gw.Saves())
}
