package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
)

//go:embed schema.sql
var schemaSQL string

// Mode selects which database role runs the statements
type Mode int

const (
	// ModeDirect runs as repairdesk_technician or repairdesk_anon under RLS
	ModeDirect Mode = iota
	// ModePrivileged runs as the table owner, bypassing RLS
	ModePrivileged
)

func (m Mode) String() string {
	if m == ModePrivileged {
		return "privileged"
	}
	return "direct"
}

const (
	roleTechnician = "repairdesk_technician"
	roleAnon       = "repairdesk_anon"
)

const selectColumns = `id, shop_id, repair_id, issue_key, report, signature_status,
	signature_token::text, token_expires_at, signature_image, signature_signed_at, created_at, updated_at`

// InterventionStore implements repository.InterventionRepository on Postgres
type InterventionStore struct {
	pool *pgxpool.Pool
	mode Mode
}

// NewInterventionStore creates a store over pool in the given mode
func NewInterventionStore(pool *pgxpool.Pool, mode Mode) *InterventionStore {
	return &InterventionStore{pool: pool, mode: mode}
}

// Connect opens a pool and verifies connectivity
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// No arguments: pgx sends this with the simple protocol, which allows
	// several statements in one call.
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Name identifies the route
func (s *InterventionStore) Name() string { return s.mode.String() }

func (s *InterventionStore) fail(op string, err error) error {
	se := intervention.NewStoreError(op, s.Name(), err)
	if se.Kind == intervention.KindUnknown {
		se.Kind = ClassifyError(err)
	}
	return se
}

// withScope runs fn in a transaction. In direct mode the transaction
// switches to the caller's role and publishes its shop for the RLS policy.
func (s *InterventionStore) withScope(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if s.mode == ModeDirect {
			p := access.FromContext(ctx)
			role := roleAnon
			if p.IsTechnician() {
				role = roleTechnician
			}
			if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+role); err != nil {
				return fmt.Errorf("set role: %w", err)
			}
			if _, err := tx.Exec(ctx, "SELECT set_config('repairdesk.shop_id', $1, true)", p.ShopID); err != nil {
				return fmt.Errorf("set shop scope: %w", err)
			}
		}
		return fn(tx)
	})
}

// privilegedShop returns the caller's shop as an explicit filter for the
// privileged route, which RLS does not scope.
func (s *InterventionStore) privilegedShop(ctx context.Context) string {
	if s.mode != ModePrivileged {
		return ""
	}
	return access.FromContext(ctx).ShopID
}

// Create inserts a record in one statement
func (s *InterventionStore) Create(ctx context.Context, rec *intervention.Intervention) error {
	const op = "create"
	if rec == nil {
		return s.fail(op, fmt.Errorf("%w: nil record", intervention.ErrInvalidReport))
	}
	report, err := intervention.MarshalReport(rec.Report())
	if err != nil {
		return s.fail(op, err)
	}

	var token *string
	var expiresAt *time.Time
	if g := rec.Grant(); g != nil {
		t := g.Token.String()
		token = &t
		e := g.ExpiresAt
		expiresAt = &e
	}
	var image *string
	if !rec.Image().IsZero() {
		d := rec.Image().DataURL()
		image = &d
	}

	err = s.withScope(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO interventions (id, shop_id, repair_id, issue_key, report, signature_status,
				signature_token, token_expires_at, signature_image, signature_signed_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::uuid, $8, $9, $10, $11, $12)`,
			rec.ID().String(), rec.ShopID(), rec.RepairID(), rec.IssueKey(), report, rec.Status().String(),
			token, expiresAt, image, rec.SignedAt(), rec.CreatedAt(), rec.UpdatedAt(),
		)
		return err
	})
	if err != nil {
		return s.fail(op, fmt.Errorf("insert intervention: %w", err))
	}
	return nil
}

// Find retrieves a record by ID
func (s *InterventionStore) Find(ctx context.Context, id intervention.RecordID) (*intervention.Intervention, error) {
	const op = "find"
	query, args := withShop(`SELECT `+selectColumns+` FROM interventions WHERE id = $1`, []any{id.String()}, s.privilegedShop(ctx))
	rec, err := s.queryOne(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.fail(op, fmt.Errorf("%w: %s", intervention.ErrRecordNotFound, id))
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	return rec, nil
}

// FindSignatureStatus reads only the signature sub-state
func (s *InterventionStore) FindSignatureStatus(ctx context.Context, id intervention.RecordID) (intervention.SignatureSnapshot, error) {
	const op = "find_signature_status"
	query, args := withShop(`
		SELECT signature_status, signature_image, signature_signed_at, token_expires_at
		FROM interventions WHERE id = $1`, []any{id.String()}, s.privilegedShop(ctx))

	var (
		status    string
		image     *string
		signedAt  *time.Time
		expiresAt *time.Time
	)
	err := s.withScope(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, args...).Scan(&status, &image, &signedAt, &expiresAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return intervention.SignatureSnapshot{}, s.fail(op, fmt.Errorf("%w: %s", intervention.ErrRecordNotFound, id))
	}
	if err != nil {
		return intervention.SignatureSnapshot{}, s.fail(op, err)
	}

	st, err := intervention.ParseSignatureStatus(status)
	if err != nil {
		return intervention.SignatureSnapshot{}, s.fail(op, err)
	}
	snap := intervention.SignatureSnapshot{
		RecordID:       id,
		Status:         st,
		SignedAt:       utcPtr(signedAt),
		TokenExpiresAt: utcPtr(expiresAt),
	}
	if image != nil {
		snap.Image = intervention.ReconstructSignatureImage(*image)
	}
	return snap, nil
}

// FindByToken resolves a signing token to its record
func (s *InterventionStore) FindByToken(ctx context.Context, token intervention.SigningToken) (*intervention.Intervention, error) {
	const op = "find_by_token"
	if token.IsZero() {
		return nil, s.fail(op, intervention.ErrMalformedToken)
	}
	query, args := withShop(`SELECT `+selectColumns+` FROM interventions WHERE signature_token = $1::uuid`, []any{token.String()}, s.privilegedShop(ctx))
	rec, err := s.queryOne(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.fail(op, intervention.ErrTokenNotFound)
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	return rec, nil
}

// FindLatestByRepair returns the most recently created record of a repair
func (s *InterventionStore) FindLatestByRepair(ctx context.Context, repairID string) (*intervention.Intervention, error) {
	const op = "find_latest_by_repair"
	if strings.TrimSpace(repairID) == "" {
		return nil, s.fail(op, fmt.Errorf("%w: empty repair id", intervention.ErrMalformedID))
	}
	query, args := withShop(`SELECT `+selectColumns+` FROM interventions WHERE repair_id = $1`, []any{repairID}, s.privilegedShop(ctx))
	rec, err := s.queryOne(ctx, query+` ORDER BY created_at DESC, id DESC LIMIT 1`, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.fail(op, fmt.Errorf("%w: repair %s", intervention.ErrRecordNotFound, repairID))
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	return rec, nil
}

// FindByIssueKey returns the latest record created under an idempotency key
func (s *InterventionStore) FindByIssueKey(ctx context.Context, shopID, issueKey string) (*intervention.Intervention, error) {
	const op = "find_by_issue_key"
	if issueKey == "" {
		return nil, s.fail(op, fmt.Errorf("%w: empty issue key", intervention.ErrRecordNotFound))
	}
	rec, err := s.queryOne(ctx, `
		SELECT `+selectColumns+`
		FROM interventions
		WHERE shop_id = $1 AND issue_key = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, shopID, issueKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.fail(op, fmt.Errorf("%w: issue key %s", intervention.ErrRecordNotFound, issueKey))
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	return rec, nil
}

// SubmitSignature applies sent -> signed as one conditional UPDATE and
// explains a miss from the row it missed, in the same transaction.
func (s *InterventionStore) SubmitSignature(ctx context.Context, token intervention.SigningToken, image intervention.SignatureImage, now time.Time) error {
	const op = "submit_signature"
	if token.IsZero() {
		return s.fail(op, intervention.ErrMalformedToken)
	}
	if image.IsZero() {
		return s.fail(op, intervention.ErrInvalidImage)
	}
	now = now.UTC()
	shop := s.privilegedShop(ctx)

	err := s.withScope(ctx, func(tx pgx.Tx) error {
		update, args := withShop(`
			UPDATE interventions
			SET signature_status = 'signed',
			    signature_image = $1,
			    signature_signed_at = $2,
			    updated_at = $2
			WHERE signature_token = $3::uuid
			  AND signature_status = 'sent'
			  AND token_expires_at >= $2`, []any{image.DataURL(), now, token.String()}, shop)
		tag, err := tx.Exec(ctx, update, args...)
		if err != nil {
			return fmt.Errorf("update signature: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		probe, probeArgs := withShop(`
			SELECT signature_status, token_expires_at
			FROM interventions WHERE signature_token = $1::uuid`, []any{token.String()}, shop)
		var status string
		var expiresAt *time.Time
		err = tx.QueryRow(ctx, probe, probeArgs...).Scan(&status, &expiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return intervention.ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("read signature state: %w", err)
		}
		st, err := intervention.ParseSignatureStatus(status)
		if err != nil {
			return err
		}
		var exp time.Time
		if expiresAt != nil {
			exp = *expiresAt
		}
		if err := intervention.RejectSignature(st, exp, now); err != nil {
			return err
		}
		return fmt.Errorf("%w: conditional update matched no row", intervention.ErrInvalidTransition)
	})
	if err != nil {
		return s.fail(op, err)
	}
	return nil
}

// MarkExpired persists expired for sent records lapsed at now
func (s *InterventionStore) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "mark_expired"
	query, args := withShop(`
		UPDATE interventions
		SET signature_status = 'expired', updated_at = $1
		WHERE signature_status = 'sent' AND token_expires_at < $1`, []any{now.UTC()}, s.privilegedShop(ctx))

	var n int64
	err := s.withScope(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, s.fail(op, fmt.Errorf("mark expired: %w", err))
	}
	return int(n), nil
}

func (s *InterventionStore) queryOne(ctx context.Context, query string, args ...any) (*intervention.Intervention, error) {
	var rec *intervention.Intervention
	err := s.withScope(ctx, func(tx pgx.Tx) error {
		var err error
		rec, err = scanIntervention(tx.QueryRow(ctx, query, args...))
		return err
	})
	return rec, err
}

// withShop appends a shop predicate using the next positional parameter
func withShop(query string, args []any, shop string) (string, []any) {
	if shop == "" {
		return query, args
	}
	args = append(args, shop)
	return fmt.Sprintf("%s AND shop_id = $%d", query, len(args)), args
}

func scanIntervention(row pgx.Row) (*intervention.Intervention, error) {
	var (
		idStr, shopID, repairID, issueKey string
		report                            []byte
		status                            string
		token                             *string
		expiresAt                         *time.Time
		image                             *string
		signedAt                          *time.Time
		createdAt, updatedAt              time.Time
	)
	if err := row.Scan(
		&idStr, &shopID, &repairID, &issueKey, &report, &status,
		&token, &expiresAt, &image, &signedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := intervention.NewRecordID(idStr)
	if err != nil {
		return nil, err
	}
	fields, err := intervention.UnmarshalReport(report)
	if err != nil {
		return nil, err
	}
	st, err := intervention.ParseSignatureStatus(status)
	if err != nil {
		return nil, err
	}

	var grant *intervention.SigningGrant
	if token != nil {
		tok, err := intervention.ParseSigningToken(*token)
		if err != nil {
			return nil, err
		}
		if expiresAt == nil {
			return nil, fmt.Errorf("intervention %s: token without expiry", idStr)
		}
		grant = &intervention.SigningGrant{Token: tok, ExpiresAt: expiresAt.UTC()}
	}
	var img intervention.SignatureImage
	if image != nil {
		img = intervention.ReconstructSignatureImage(*image)
	}

	return intervention.ReconstructIntervention(
		id, shopID, repairID, issueKey, fields, grant, st, img,
		utcPtr(signedAt), createdAt.UTC(), updatedAt.UTC(),
	)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
