package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/persistence/memory"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/persistence/route"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/repository/mock"
	"github.com/YoshitsuguKoike/repairdesk/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const testOrigin = "https://shop.example"

// fixture is a memory-backed router with scriptable routes
type fixture struct {
	direct     *mock.MockInterventionRoute
	privileged *mock.MockInterventionRoute
	router     *route.Router
	clock      *testutil.FakeClock
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tables := memory.NewTables()
	f := &fixture{
		direct:     mock.NewMockInterventionRoute("direct", memory.NewInterventionStore(tables, false)),
		privileged: mock.NewMockInterventionRoute("privileged", memory.NewInterventionStore(tables, true)),
		clock:      testutil.NewFakeClock(t0),
		metrics:    metrics.New(nil),
	}
	f.router = route.NewRouter(f.direct, f.privileged, app.NopLogger(), f.metrics)
	return f
}

func (f *fixture) issuer() *TokenIssuer {
	return NewTokenIssuer(f.router, IssuerConfig{TokenTTL: intervention.TokenTTL, PublicOrigin: testOrigin}, f.clock, app.NopLogger(), f.metrics)
}

func (f *fixture) resolver(archive output.StorageGateway) *SignatureResolver {
	return NewSignatureResolver(f.router, archive, 0, f.clock, app.NopLogger(), f.metrics)
}

func issueRequest(repairID, issueKey string) dto.IssueRequest {
	return dto.IssueRequest{RepairID: repairID, IssueKey: issueKey, Report: validReport()}
}

func technicianCtx(shop string) context.Context {
	return access.WithPrincipal(context.Background(), access.Technician("tech-1", shop))
}

// mustIssue issues a token for shop-1 at the fixture's current time
func mustIssue(t *testing.T, f *fixture) (intervention.RecordID, string) {
	t.Helper()
	res, err := f.issuer().Issue(technicianCtx("shop-1"), issueRequest("repair-1", ""))
	require.NoError(t, err)
	id, err := intervention.NewRecordID(res.ID)
	require.NoError(t, err)
	return id, res.Token
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func pngDataURL(tag string) string { return testutil.PNGDataURL(tag) }
