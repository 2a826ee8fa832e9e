package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ws := testutil.NewTestWorkspace(t)
	db, err := Open(context.Background(), ws.SQLiteDSN())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func technician(shop string) context.Context {
	return access.WithPrincipal(context.Background(), access.Technician("tech-1", shop))
}

func newSentRecord(t *testing.T, shop, repair string, now time.Time) *intervention.Intervention {
	t.Helper()
	rec, err := intervention.NewDraft(intervention.GenerateRecordID(now), shop, repair, "", intervention.ReportFields{
		ClientName:         "Ana Lopez",
		DeviceType:         "Laptop",
		ProblemDescription: "No boot",
	}, now)
	require.NoError(t, err)
	token, err := intervention.GenerateSigningToken()
	require.NoError(t, err)
	require.NoError(t, rec.IssueToken(token, now, intervention.TokenTTL))
	return rec
}

func pngImage(t *testing.T, tag string) intervention.SignatureImage {
	t.Helper()
	img, err := intervention.ParseSignatureImage(testutil.PNGDataURL(tag), 0)
	require.NoError(t, err)
	return img
}

func TestInterventionRepository_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInterventionRepository(db, ModeDirect)
	ctx := technician("shop-1")

	rec := newSentRecord(t, "shop-1", "repair-1", t0)
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.Find(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), got.ID())
	assert.Equal(t, "shop-1", got.ShopID())
	assert.Equal(t, "repair-1", got.RepairID())
	assert.Equal(t, rec.Report(), got.Report())
	assert.Equal(t, intervention.StatusSent, got.Status())
	require.NotNil(t, got.Grant())
	assert.Equal(t, rec.Grant().Token, got.Grant().Token)
	assert.True(t, rec.Grant().ExpiresAt.Equal(got.Grant().ExpiresAt))

	byToken, err := repo.FindByToken(ctx, rec.Grant().Token)
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), byToken.ID())
}

func TestInterventionRepository_DirectModePolicy(t *testing.T) {
	db := setupTestDB(t)
	direct := NewInterventionRepository(db, ModeDirect)
	privileged := NewInterventionRepository(db, ModePrivileged)

	rec := newSentRecord(t, "shop-1", "repair-1", t0)
	require.NoError(t, direct.Create(technician("shop-1"), rec))

	t.Run("anonymous caller is unauthorized", func(t *testing.T) {
		_, err := direct.FindByToken(context.Background(), rec.Grant().Token)
		require.Error(t, err)
		assert.True(t, intervention.IsAuthorization(err))
		assert.Equal(t, "direct", direct.Name())
	})

	t.Run("other shop sees nothing", func(t *testing.T) {
		_, err := direct.Find(technician("shop-2"), rec.ID())
		assert.ErrorIs(t, err, intervention.ErrRecordNotFound)
		assert.Equal(t, intervention.KindNotFound, intervention.KindOf(err))
	})

	t.Run("insert into another shop is unauthorized", func(t *testing.T) {
		other := newSentRecord(t, "shop-2", "", t0)
		err := direct.Create(technician("shop-1"), other)
		assert.True(t, intervention.IsAuthorization(err))
	})

	t.Run("privileged mode bypasses the policy", func(t *testing.T) {
		got, err := privileged.FindByToken(context.Background(), rec.Grant().Token)
		require.NoError(t, err)
		assert.Equal(t, rec.ID(), got.ID())
	})

	t.Run("privileged mode validates inputs", func(t *testing.T) {
		bad := newSentRecord(t, " ", "", t0)
		err := privileged.Create(context.Background(), bad)
		assert.Equal(t, intervention.KindValidation, intervention.KindOf(err))
	})
}

func TestInterventionRepository_SubmitSignatureOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInterventionRepository(db, ModePrivileged)
	ctx := context.Background()

	rec := newSentRecord(t, "shop-1", "", t0)
	require.NoError(t, repo.Create(ctx, rec))
	token := rec.Grant().Token

	first := pngImage(t, "first")
	require.NoError(t, repo.SubmitSignature(ctx, token, first, t0.Add(time.Hour)))

	err := repo.SubmitSignature(ctx, token, pngImage(t, "second"), t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, intervention.ErrAlreadySigned)
	assert.Equal(t, intervention.KindConflict, intervention.KindOf(err))

	snap, err := repo.FindSignatureStatus(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, intervention.StatusSigned, snap.Status)
	assert.Equal(t, first.DataURL(), snap.Image.DataURL())
	require.NotNil(t, snap.SignedAt)
	assert.True(t, snap.SignedAt.Equal(t0.Add(time.Hour)))
}

func TestInterventionRepository_SubmitSignatureRejections(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInterventionRepository(db, ModePrivileged)
	ctx := context.Background()

	rec := newSentRecord(t, "shop-1", "", t0)
	require.NoError(t, repo.Create(ctx, rec))

	expiry := rec.Grant().ExpiresAt
	err := repo.SubmitSignature(ctx, rec.Grant().Token, pngImage(t, "late"), expiry.Add(time.Millisecond))
	assert.ErrorIs(t, err, intervention.ErrTokenExpired)
	assert.Equal(t, intervention.KindExpired, intervention.KindOf(err))

	unknown, err := intervention.GenerateSigningToken()
	require.NoError(t, err)
	err = repo.SubmitSignature(ctx, unknown, pngImage(t, "x"), t0)
	assert.ErrorIs(t, err, intervention.ErrTokenNotFound)

	snap, err := repo.FindSignatureStatus(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, intervention.StatusSent, snap.Status)
	assert.Equal(t, intervention.StatusExpired, snap.Effective(expiry.Add(time.Millisecond)).Status)
	assert.True(t, snap.Image.IsZero())

	// Exactly at expiry the token is still valid
	require.NoError(t, repo.SubmitSignature(ctx, rec.Grant().Token, pngImage(t, "edge"), expiry))
}

func TestInterventionRepository_ConcurrentSigners(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInterventionRepository(db, ModePrivileged)
	ctx := context.Background()

	rec := newSentRecord(t, "shop-1", "", t0)
	require.NoError(t, repo.Create(ctx, rec))

	const signers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	images := make([]intervention.SignatureImage, signers)
	for i := range images {
		images[i] = pngImage(t, fmt.Sprintf("signer-%d", i))
	}
	for i := 0; i < signers; i++ {
		wg.Add(1)
		go func(img intervention.SignatureImage) {
			defer wg.Done()
			err := repo.SubmitSignature(ctx, rec.Grant().Token, img, t0.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, img.DataURL())
			case intervention.KindOf(err) == intervention.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(images[i])
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, signers-1, conflicts)

	snap, err := repo.FindSignatureStatus(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, winners[0], snap.Image.DataURL())
}

func TestInterventionRepository_FindLatestByRepairAndIssueKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInterventionRepository(db, ModeDirect)
	ctx := technician("shop-1")

	older := newSentRecord(t, "shop-1", "repair-9", t0)
	newer := newSentRecord(t, "shop-1", "repair-9", t0.Add(time.Minute))
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	got, err := repo.FindLatestByRepair(ctx, "repair-9")
	require.NoError(t, err)
	assert.Equal(t, newer.ID(), got.ID())

	_, err = repo.FindLatestByRepair(ctx, "repair-404")
	assert.ErrorIs(t, err, intervention.ErrRecordNotFound)

	keyed, err := intervention.NewDraft(intervention.GenerateRecordID(t0), "shop-1", "", "key-1", intervention.ReportFields{}, t0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, keyed))

	found, err := repo.FindByIssueKey(ctx, "shop-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, keyed.ID(), found.ID())
	assert.Equal(t, intervention.StatusPending, found.Status())

	_, err = repo.FindByIssueKey(ctx, "shop-2", "key-1")
	assert.ErrorIs(t, err, intervention.ErrRecordNotFound)
}

func TestInterventionRepository_MarkExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInterventionRepository(db, ModePrivileged)
	ctx := context.Background()

	lapsed := newSentRecord(t, "shop-1", "", t0)
	fresh := newSentRecord(t, "shop-1", "", t0.Add(48*time.Hour))
	require.NoError(t, repo.Create(ctx, lapsed))
	require.NoError(t, repo.Create(ctx, fresh))

	n, err := repo.MarkExpired(ctx, t0.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Find(ctx, lapsed.ID())
	require.NoError(t, err)
	assert.Equal(t, intervention.StatusExpired, got.Status())

	err = repo.SubmitSignature(ctx, lapsed.Grant().Token, pngImage(t, "x"), t0.Add(time.Hour))
	assert.ErrorIs(t, err, intervention.ErrTokenExpired)

	n, err = repo.MarkExpired(ctx, t0.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInterventionRepository_DuplicateIDIsConflict(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInterventionRepository(db, ModePrivileged)
	ctx := context.Background()

	rec := newSentRecord(t, "shop-1", "", t0)
	require.NoError(t, repo.Create(ctx, rec))
	err := repo.Create(ctx, rec)
	require.Error(t, err)
	assert.Equal(t, intervention.KindConflict, intervention.KindOf(err))
}

func TestTimeLayoutOrdersChronologically(t *testing.T) {
	a := formatTime(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := formatTime(time.Date(2026, 3, 1, 9, 0, 0, 500, time.UTC))
	c := formatTime(time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC))
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	back, err := parseTime(b)
	require.NoError(t, err)
	assert.True(t, back.Equal(time.Date(2026, 3, 1, 9, 0, 0, 500, time.UTC)))
}
