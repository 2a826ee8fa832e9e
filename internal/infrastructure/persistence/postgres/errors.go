package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
)

// ClassifyError maps a pgx failure onto the intervention error kinds by
// SQLSTATE. Row-level security denials (42501) are the authorization shape
// the router falls back on.
func ClassifyError(err error) intervention.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return intervention.KindNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return intervention.KindTransient
	}
	return intervention.KindUnknown
}

func classifySQLState(code string) intervention.ErrorKind {
	switch code {
	case "42501": // insufficient_privilege, includes RLS violations
		return intervention.KindAuthorization
	case "23514", "22023", "22P02", "23502", "22007", "22001":
		return intervention.KindValidation
	case "23505":
		return intervention.KindConflict
	case "40001", "40P01", "57P01", "57P03", "53300":
		return intervention.KindTransient
	}
	if strings.HasPrefix(code, "08") {
		return intervention.KindTransient
	}
	// Class 28 is a failed login, not a scope rejection
	return intervention.KindUnknown
}
