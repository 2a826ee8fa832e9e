package di

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/app/config"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/service"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig(store config.StoreConfig, archive config.ArchiveConfig) *config.AppConfig {
	return config.NewAppConfig(
		config.ServerConfig{Addr: ":0", PublicOrigin: "https://shop.example", ShutdownTimeout: time.Second},
		store,
		config.SignatureConfig{
			TokenTTL:      72 * time.Hour,
			PollInterval:  10 * time.Millisecond,
			MaxImageBytes: 1 << 20,
		},
		archive,
		config.AuthConfig{JWTSecret: "test-secret", CLIShopID: "shop-1", CLISubject: "cli"},
		"info",
		"default", "",
	)
}

func newMemoryContainer(t *testing.T, archive config.ArchiveConfig) (*Container, *testutil.FakeClock, *bytes.Buffer) {
	t.Helper()
	clk := testutil.NewFakeClock(t0)
	out := &bytes.Buffer{}
	c, err := NewContainer(context.Background(),
		testConfig(config.StoreConfig{Driver: config.DriverMemory}, archive),
		Options{OutputFormat: "json", OutputWriter: out, Clock: clk, Logger: app.NopLogger(), Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, clk, out
}

func issue(t *testing.T, c *Container) *dto.IssueResult {
	t.Helper()
	ctx, err := c.TechnicianContext(context.Background())
	require.NoError(t, err)
	res, err := c.Issuer().Issue(ctx, dto.IssueRequest{
		RepairID: "repair-1",
		Report: intervention.ReportFields{
			ClientName:         "Ana Lopez",
			DeviceType:         "Phone",
			ProblemDescription: "Cracked screen",
		},
	})
	require.NoError(t, err)
	return res
}

func TestContainer_MemoryStoreEndToEnd(t *testing.T) {
	c, clk, _ := newMemoryContainer(t, config.ArchiveConfig{Type: "mock"})
	require.NotNil(t, c.GetStorageGateway())

	res := issue(t, c)
	assert.Equal(t, "https://shop.example/sign/"+res.Token, res.SigningURL)

	clk.Advance(time.Hour)
	submitted, err := c.Resolver().Submit(context.Background(), res.Token, testutil.PNGDataURL("sig"))
	require.NoError(t, err)
	assert.Equal(t, "signed", submitted.SignatureStatus)

	ctx, err := c.TechnicianContext(context.Background())
	require.NoError(t, err)
	status, err := c.Query().SignatureStatus(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "signed", status.SignatureStatus)

	arts, err := c.Resolver().ListArchived(ctx, res.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, arts)
}

func TestContainer_LocalArchiveUsesInjectedFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := testutil.NewFakeClock(t0)
	c, err := NewContainer(context.Background(),
		testConfig(config.StoreConfig{Driver: config.DriverMemory}, config.ArchiveConfig{Type: "local", BaseDir: "/archive"}),
		Options{Clock: clk, Fs: fs, OutputWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	defer c.Close()

	res := issue(t, c)
	_, err = c.Resolver().Submit(context.Background(), res.Token, testutil.PNGDataURL("sig"))
	require.NoError(t, err)

	exists, err := afero.DirExists(fs, "/archive")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestContainer_SQLiteStore(t *testing.T) {
	ws := testutil.NewTestWorkspace(t)
	c, err := NewContainer(context.Background(),
		testConfig(config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: ws.SQLiteDSN()}, config.ArchiveConfig{Type: "none"}),
		Options{Clock: testutil.NewFakeClock(t0), OutputWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.GetStorageGateway())
	require.NoError(t, c.Migrate(context.Background()))

	res := issue(t, c)
	_, err = c.Resolver().Resolve(context.Background(), res.Token)
	require.NoError(t, err)
}

func TestContainer_RejectsUnknownDrivers(t *testing.T) {
	_, err := NewContainer(context.Background(),
		testConfig(config.StoreConfig{Driver: "oracle"}, config.ArchiveConfig{}), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")

	_, err = NewContainer(context.Background(),
		testConfig(config.StoreConfig{Driver: config.DriverMemory}, config.ArchiveConfig{Type: "ftp"}), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown archive type")

	_, err = NewContainer(context.Background(),
		testConfig(config.StoreConfig{Driver: config.DriverMemory}, config.ArchiveConfig{Type: "s3"}), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
}

func TestContainer_TechnicianContextRequiresShop(t *testing.T) {
	cfg := config.NewAppConfig(config.ServerConfig{}, config.StoreConfig{Driver: config.DriverMemory},
		config.SignatureConfig{TokenTTL: time.Hour, PollInterval: time.Second}, config.ArchiveConfig{},
		config.AuthConfig{}, "info", "default", "")
	c, err := NewContainer(context.Background(), cfg, Options{OutputWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.TechnicianContext(context.Background())
	assert.Error(t, err)
}

func TestContainer_WorkflowSweepAndPresenter(t *testing.T) {
	c, clk, out := newMemoryContainer(t, config.ArchiveConfig{})
	issue(t, c)

	w := c.NewWorkflow()
	defer w.Close()
	assert.Equal(t, service.PhaseIdle, w.State().Phase)

	clk.Advance(73 * time.Hour)
	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.GetPresenter().PresentSuccess("swept", n))
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, float64(1), got["data"])
}

func TestContainer_HTTPHandler(t *testing.T) {
	c, _, _ := newMemoryContainer(t, config.ArchiveConfig{})
	h, err := c.HTTPHandler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/repairs/repair-1/intervention", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := c.Authenticator().Sign("tech-1", "shop-1", time.Hour, time.Now())
	require.NoError(t, err)
	issue(t, c)
	req := httptest.NewRequest(http.MethodGet, "/api/repairs/repair-1/intervention", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
