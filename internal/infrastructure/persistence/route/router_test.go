package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/persistence/memory"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/repository/mock"
	rdtestutil "github.com/YoshitsuguKoike/repairdesk/internal/testutil"
)

func newRoutes() (*mock.MockInterventionRoute, *mock.MockInterventionRoute, *memory.Tables) {
	tables := memory.NewTables()
	direct := mock.NewMockInterventionRoute("direct", memory.NewInterventionStore(tables, false))
	privileged := mock.NewMockInterventionRoute("privileged", memory.NewInterventionStore(tables, true))
	return direct, privileged, tables
}

func seed(t *testing.T, tables *memory.Tables) *intervention.Intervention {
	t.Helper()
	now := time.Now().UTC()
	rec, err := intervention.NewDraft(intervention.GenerateRecordID(now), "shop-1", "", "", intervention.ReportFields{}, now)
	require.NoError(t, err)
	token, err := intervention.GenerateSigningToken()
	require.NoError(t, err)
	require.NoError(t, rec.IssueToken(token, now, time.Hour))
	require.NoError(t, memory.NewInterventionStore(tables, true).Create(context.Background(), rec))
	return rec
}

func TestRouter_AuthorizationFallsBackExactlyOnce(t *testing.T) {
	direct, privileged, tables := newRoutes()
	m := metrics.New(nil)
	router := NewRouter(direct, privileged, app.NopLogger(), m)
	rec := seed(t, tables)

	// Anonymous caller: the direct memory route refuses with an authorization error
	got, err := router.FindByToken(context.Background(), rec.Grant().Token)
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), got.ID())

	assert.Equal(t, 1, direct.Calls(mock.OpFindByToken))
	assert.Equal(t, 1, privileged.Calls(mock.OpFindByToken))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreFallbacksTotal.WithLabelValues("find_by_token")))
}

func TestRouter_NonAuthorizationFailuresDoNotFallBack(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "not found", err: intervention.NewStoreError("submit_signature", "direct", intervention.ErrTokenNotFound)},
		{name: "malformed token", err: intervention.ErrMalformedToken},
		{name: "already signed", err: intervention.ErrAlreadySigned},
		{name: "expired", err: intervention.ErrTokenExpired},
		{name: "transient", err: &intervention.StoreError{Op: "submit_signature", Kind: intervention.KindTransient, Err: errors.New("reset")}},
		{name: "unclassified", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			direct, privileged, _ := newRoutes()
			direct.FailWith(mock.OpSubmitSignature, tt.err)
			router := NewRouter(direct, privileged, app.NopLogger(), nil)

			token, err := intervention.GenerateSigningToken()
			require.NoError(t, err)
			img, err := intervention.ParseSignatureImage(rdtestutil.PNGDataURL("x"), 0)
			require.NoError(t, err)

			err = router.SubmitSignature(context.Background(), token, img, time.Now())
			assert.Same(t, tt.err, err, "failure must propagate unchanged")
			assert.Equal(t, 1, direct.Calls(mock.OpSubmitSignature))
			assert.Equal(t, 0, privileged.TotalCalls())
		})
	}
}

func TestRouter_FallbackFailureIsTerminal(t *testing.T) {
	direct, privileged, _ := newRoutes()
	authErr := intervention.NewStoreError("find", "direct", intervention.ErrUnauthorized)
	direct.FailWith(mock.OpFind, authErr)
	privileged.FailWith(mock.OpFind, intervention.NewStoreError("find", "privileged", intervention.ErrUnauthorized))
	router := NewRouter(direct, privileged, app.NopLogger(), nil)

	_, err := router.Find(context.Background(), intervention.GenerateRecordID(time.Now()))
	require.Error(t, err)
	assert.True(t, intervention.IsAuthorization(err))
	assert.Equal(t, 1, direct.Calls(mock.OpFind))
	assert.Equal(t, 1, privileged.Calls(mock.OpFind))
}

func TestRouter_WithoutPrivilegedRoute(t *testing.T) {
	direct, _, _ := newRoutes()
	router := NewRouter(direct, nil, nil, nil)

	_, err := router.MarkExpired(context.Background(), time.Now())
	assert.True(t, intervention.IsAuthorization(err))
	assert.Equal(t, 1, direct.Calls(mock.OpMarkExpired))
}

func TestRouter_DirectSuccessSkipsPrivileged(t *testing.T) {
	direct, privileged, _ := newRoutes()
	m := metrics.New(nil)
	router := NewRouter(direct, privileged, app.NopLogger(), m)
	ctx := access.WithPrincipal(context.Background(), access.Technician("tech-1", "shop-1"))
	now := time.Now().UTC()

	rec, err := intervention.NewDraft(intervention.GenerateRecordID(now), "shop-1", "repair-1", "", intervention.ReportFields{}, now)
	require.NoError(t, err)
	require.NoError(t, router.Create(ctx, rec))

	got, err := router.FindLatestByRepair(ctx, "repair-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), got.ID())

	n, err := router.MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, 0, privileged.TotalCalls())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StoreFallbacksTotal.WithLabelValues("create")))
}
