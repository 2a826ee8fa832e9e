package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/transaction"
)

// AccessMode selects whether the row-level policy is enforced
type AccessMode int

const (
	// ModeDirect enforces the row-level policy for the caller's principal
	ModeDirect AccessMode = iota
	// ModePrivileged bypasses the policy and validates inputs itself
	ModePrivileged
)

// String returns the route name used in errors and metrics
func (m AccessMode) String() string {
	if m == ModePrivileged {
		return "privileged"
	}
	return "direct"
}

const interventionColumns = `id, shop_id, repair_id, issue_key, report_json, signature_status,
	signature_token, token_expires_at, signature_image, signature_signed_at, created_at, updated_at`

// InterventionRepositoryImpl implements repository.InterventionRepository with SQLite.
//
// SQLite has no row-level security, so direct mode emulates the hosted
// policy: anonymous callers hold no grant on the table, and technicians only
// see rows of their own shop.
type InterventionRepositoryImpl struct {
	db   *sql.DB
	tx   *transaction.SQLiteTransactionManager
	mode AccessMode
}

// NewInterventionRepository creates a SQLite-backed intervention store
func NewInterventionRepository(db *sql.DB, mode AccessMode) *InterventionRepositoryImpl {
	return &InterventionRepositoryImpl{
		db:   db,
		tx:   transaction.NewSQLiteTransactionManager(db),
		mode: mode,
	}
}

// Name identifies the route
func (r *InterventionRepositoryImpl) Name() string { return r.mode.String() }

// getDB returns the appropriate database executor from context
func (r *InterventionRepositoryImpl) getDB(ctx context.Context) dbExecutor {
	if tx, ok := transaction.GetTxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// scope returns the shop filter for the caller. An empty result means no
// filter, which only the privileged mode ever produces.
func (r *InterventionRepositoryImpl) scope(ctx context.Context) (string, error) {
	p := access.FromContext(ctx)
	if r.mode == ModePrivileged {
		return p.ShopID, nil
	}
	if !p.IsTechnician() {
		return "", intervention.ErrUnauthorized
	}
	return p.ShopID, nil
}

// fail wraps err with the route and a kind
func (r *InterventionRepositoryImpl) fail(op string, err error) error {
	se := intervention.NewStoreError(op, r.Name(), err)
	if se.Kind == intervention.KindUnknown {
		se.Kind = classifySQLiteError(err)
	}
	return se
}

// Create inserts a record in one statement
func (r *InterventionRepositoryImpl) Create(ctx context.Context, rec *intervention.Intervention) error {
	const op = "create"
	if rec == nil {
		return r.fail(op, fmt.Errorf("%w: nil record", intervention.ErrInvalidReport))
	}

	if r.mode == ModeDirect {
		shop, err := r.scope(ctx)
		if err != nil {
			return r.fail(op, err)
		}
		// WITH CHECK: the row must belong to the caller's shop
		if rec.ShopID() != shop {
			return r.fail(op, intervention.ErrUnauthorized)
		}
	} else if err := validateForInsert(rec); err != nil {
		return r.fail(op, err)
	}

	reportJSON, err := intervention.MarshalReport(rec.Report())
	if err != nil {
		return r.fail(op, err)
	}

	var token, expiresAt sql.NullString
	if g := rec.Grant(); g != nil {
		token = nullString(g.Token.String())
		expiresAt = nullString(formatTime(g.ExpiresAt))
	}
	var signedAt sql.NullString
	if rec.SignedAt() != nil {
		signedAt = nullString(formatTime(*rec.SignedAt()))
	}

	query := `
		INSERT INTO interventions (` + interventionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.getDB(ctx).ExecContext(ctx, query,
		rec.ID().String(),
		rec.ShopID(),
		rec.RepairID(),
		rec.IssueKey(),
		string(reportJSON),
		rec.Status().String(),
		token,
		expiresAt,
		nullString(rec.Image().DataURL()),
		signedAt,
		formatTime(rec.CreatedAt()),
		formatTime(rec.UpdatedAt()),
	)
	if err != nil {
		return r.fail(op, fmt.Errorf("insert intervention: %w", err))
	}
	return nil
}

// validateForInsert is the server-side input check of the privileged path
func validateForInsert(rec *intervention.Intervention) error {
	if strings.TrimSpace(rec.ShopID()) == "" {
		return fmt.Errorf("%w: missing shop", intervention.ErrInvalidReport)
	}
	switch rec.Status() {
	case intervention.StatusPending, intervention.StatusSent:
	default:
		return fmt.Errorf("%w: cannot insert a %s record", intervention.ErrInvalidTransition, rec.Status())
	}
	if rec.Status() == intervention.StatusSent && (rec.Grant() == nil || rec.Grant().Token.IsZero()) {
		return intervention.ErrMalformedToken
	}
	return nil
}

// Find retrieves a record by ID
func (r *InterventionRepositoryImpl) Find(ctx context.Context, id intervention.RecordID) (*intervention.Intervention, error) {
	const op = "find"
	shop, err := r.scope(ctx)
	if err != nil {
		return nil, r.fail(op, err)
	}

	query := `SELECT ` + interventionColumns + ` FROM interventions WHERE id = ?`
	args := []interface{}{id.String()}
	query, args = withShop(query, args, shop)

	rec, err := scanIntervention(r.getDB(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.fail(op, fmt.Errorf("%w: %s", intervention.ErrRecordNotFound, id))
	}
	if err != nil {
		return nil, r.fail(op, err)
	}
	return rec, nil
}

// FindSignatureStatus reads only the signature sub-state
func (r *InterventionRepositoryImpl) FindSignatureStatus(ctx context.Context, id intervention.RecordID) (intervention.SignatureSnapshot, error) {
	const op = "find_signature_status"
	shop, err := r.scope(ctx)
	if err != nil {
		return intervention.SignatureSnapshot{}, r.fail(op, err)
	}

	query := `
		SELECT signature_status, signature_image, signature_signed_at, token_expires_at
		FROM interventions
		WHERE id = ?`
	args := []interface{}{id.String()}
	query, args = withShop(query, args, shop)

	var (
		status              string
		image               sql.NullString
		signedAt, expiresAt sql.NullString
	)
	err = r.getDB(ctx).QueryRowContext(ctx, query, args...).Scan(&status, &image, &signedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return intervention.SignatureSnapshot{}, r.fail(op, fmt.Errorf("%w: %s", intervention.ErrRecordNotFound, id))
	}
	if err != nil {
		return intervention.SignatureSnapshot{}, r.fail(op, err)
	}

	snap := intervention.SignatureSnapshot{RecordID: id}
	if snap.Status, err = intervention.ParseSignatureStatus(status); err != nil {
		return intervention.SignatureSnapshot{}, r.fail(op, err)
	}
	if image.Valid {
		snap.Image = intervention.ReconstructSignatureImage(image.String)
	}
	if snap.SignedAt, err = parseNullTime(signedAt); err != nil {
		return intervention.SignatureSnapshot{}, r.fail(op, err)
	}
	if snap.TokenExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return intervention.SignatureSnapshot{}, r.fail(op, err)
	}
	return snap, nil
}

// FindByToken resolves a signing token to its record
func (r *InterventionRepositoryImpl) FindByToken(ctx context.Context, token intervention.SigningToken) (*intervention.Intervention, error) {
	const op = "find_by_token"
	shop, err := r.scope(ctx)
	if err != nil {
		return nil, r.fail(op, err)
	}
	if token.IsZero() {
		return nil, r.fail(op, intervention.ErrMalformedToken)
	}

	query := `SELECT ` + interventionColumns + ` FROM interventions WHERE signature_token = ?`
	args := []interface{}{token.String()}
	query, args = withShop(query, args, shop)

	rec, err := scanIntervention(r.getDB(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.fail(op, intervention.ErrTokenNotFound)
	}
	if err != nil {
		return nil, r.fail(op, err)
	}
	return rec, nil
}

// FindLatestByRepair returns the most recently created record of a repair
func (r *InterventionRepositoryImpl) FindLatestByRepair(ctx context.Context, repairID string) (*intervention.Intervention, error) {
	const op = "find_latest_by_repair"
	shop, err := r.scope(ctx)
	if err != nil {
		return nil, r.fail(op, err)
	}
	if strings.TrimSpace(repairID) == "" {
		return nil, r.fail(op, fmt.Errorf("%w: empty repair id", intervention.ErrMalformedID))
	}

	query := `SELECT ` + interventionColumns + ` FROM interventions WHERE repair_id = ?`
	args := []interface{}{repairID}
	query, args = withShop(query, args, shop)
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	rec, err := scanIntervention(r.getDB(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.fail(op, fmt.Errorf("%w: repair %s", intervention.ErrRecordNotFound, repairID))
	}
	if err != nil {
		return nil, r.fail(op, err)
	}
	return rec, nil
}

// FindByIssueKey returns the latest record created under an idempotency key
func (r *InterventionRepositoryImpl) FindByIssueKey(ctx context.Context, shopID, issueKey string) (*intervention.Intervention, error) {
	const op = "find_by_issue_key"
	shop, err := r.scope(ctx)
	if err != nil {
		return nil, r.fail(op, err)
	}
	if shop != "" && shop != shopID {
		return nil, r.fail(op, fmt.Errorf("%w: issue key %s", intervention.ErrRecordNotFound, issueKey))
	}
	if issueKey == "" {
		return nil, r.fail(op, fmt.Errorf("%w: empty issue key", intervention.ErrRecordNotFound))
	}

	query := `
		SELECT ` + interventionColumns + `
		FROM interventions
		WHERE shop_id = ? AND issue_key = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	rec, err := scanIntervention(r.getDB(ctx).QueryRowContext(ctx, query, shopID, issueKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.fail(op, fmt.Errorf("%w: issue key %s", intervention.ErrRecordNotFound, issueKey))
	}
	if err != nil {
		return nil, r.fail(op, err)
	}
	return rec, nil
}

// SubmitSignature applies sent -> signed as one conditional UPDATE. When no
// row matches, the current state is read in the same transaction to report
// why.
func (r *InterventionRepositoryImpl) SubmitSignature(ctx context.Context, token intervention.SigningToken, image intervention.SignatureImage, now time.Time) error {
	const op = "submit_signature"
	shop, err := r.scope(ctx)
	if err != nil {
		return r.fail(op, err)
	}
	if token.IsZero() {
		return r.fail(op, intervention.ErrMalformedToken)
	}
	if image.IsZero() {
		return r.fail(op, intervention.ErrInvalidImage)
	}

	stamp := formatTime(now)
	err = r.tx.InTransaction(ctx, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		update := `
			UPDATE interventions
			SET signature_status = 'signed',
			    signature_image = ?,
			    signature_signed_at = ?,
			    updated_at = ?
			WHERE signature_token = ?
			  AND signature_status = 'sent'
			  AND token_expires_at >= ?`
		args := []interface{}{image.DataURL(), stamp, stamp, token.String(), stamp}
		update, args = withShop(update, args, shop)

		result, err := db.ExecContext(txCtx, update, args...)
		if err != nil {
			return fmt.Errorf("update signature: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 1 {
			return nil
		}

		probe := `SELECT signature_status, token_expires_at FROM interventions WHERE signature_token = ?`
		probeArgs := []interface{}{token.String()}
		probe, probeArgs = withShop(probe, probeArgs, shop)

		var status string
		var expiresAt sql.NullString
		err = db.QueryRowContext(txCtx, probe, probeArgs...).Scan(&status, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return intervention.ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("read signature state: %w", err)
		}
		return rejectFromRow(status, expiresAt, now)
	})
	if err != nil {
		return r.fail(op, err)
	}
	return nil
}

// rejectFromRow explains a missed conditional update from the row it missed
func rejectFromRow(status string, expiresAt sql.NullString, now time.Time) error {
	st, err := intervention.ParseSignatureStatus(status)
	if err != nil {
		return err
	}
	var exp time.Time
	if expiresAt.Valid {
		if exp, err = parseTime(expiresAt.String); err != nil {
			return err
		}
	}
	if err := intervention.RejectSignature(st, exp, now); err != nil {
		return err
	}
	return fmt.Errorf("%w: conditional update matched no row", intervention.ErrInvalidTransition)
}

// MarkExpired persists expired for sent records lapsed at now
func (r *InterventionRepositoryImpl) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "mark_expired"
	shop, err := r.scope(ctx)
	if err != nil {
		return 0, r.fail(op, err)
	}

	stamp := formatTime(now)
	query := `
		UPDATE interventions
		SET signature_status = 'expired', updated_at = ?
		WHERE signature_status = 'sent'
		  AND token_expires_at < ?`
	args := []interface{}{stamp, stamp}
	query, args = withShop(query, args, shop)

	result, err := r.getDB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, r.fail(op, fmt.Errorf("mark expired: %w", err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, r.fail(op, fmt.Errorf("get rows affected: %w", err))
	}
	return int(rows), nil
}

// withShop appends the row-level shop predicate when shop is set
func withShop(query string, args []interface{}, shop string) (string, []interface{}) {
	if shop == "" {
		return query, args
	}
	return query + ` AND shop_id = ?`, append(args, shop)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntervention(row rowScanner) (*intervention.Intervention, error) {
	var (
		idStr, shopID, repairID, issueKey string
		reportJSON, status                string
		token, expiresAt                  sql.NullString
		image, signedAt                   sql.NullString
		createdAt, updatedAt              string
	)
	if err := row.Scan(
		&idStr, &shopID, &repairID, &issueKey, &reportJSON, &status,
		&token, &expiresAt, &image, &signedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := intervention.NewRecordID(idStr)
	if err != nil {
		return nil, err
	}
	report, err := intervention.UnmarshalReport([]byte(reportJSON))
	if err != nil {
		return nil, err
	}
	st, err := intervention.ParseSignatureStatus(status)
	if err != nil {
		return nil, err
	}

	var grant *intervention.SigningGrant
	if token.Valid {
		tok, err := intervention.ParseSigningToken(token.String)
		if err != nil {
			return nil, err
		}
		exp, err := parseNullTime(expiresAt)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			return nil, fmt.Errorf("intervention %s: token without expiry", idStr)
		}
		grant = &intervention.SigningGrant{Token: tok, ExpiresAt: *exp}
	}

	var img intervention.SignatureImage
	if image.Valid {
		img = intervention.ReconstructSignatureImage(image.String)
	}
	signed, err := parseNullTime(signedAt)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return intervention.ReconstructIntervention(id, shopID, repairID, issueKey, report, grant, st, img, signed, created, updated)
}
