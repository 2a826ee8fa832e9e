package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
)

// dbExecutor is satisfied by both *sql.DB and *sql.Tx
type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// timeLayout is fixed width so that TEXT comparison in SQL orders
// timestamps chronologically. RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand may use RFC3339
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Open opens a SQLite database and applies pending migrations.
// dsn is a file path or a go-sqlite3 "file:" URI.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", withDefaultParams(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := NewMigrator(db).Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// defaultParams are added to every DSN that does not set them. Each entry
// lists the go-sqlite3 spellings of one option.
var defaultParams = []struct {
	keys  []string
	value string
}{
	{keys: []string{"_busy_timeout", "_timeout"}, value: "5000"},
	{keys: []string{"_journal_mode", "_journal"}, value: "WAL"},
	{keys: []string{"_txlock"}, value: "immediate"},
}

// withDefaultParams turns dsn into a "file:" URI carrying the busy timeout,
// WAL journal and immediate transaction lock. Options already present in
// dsn are kept as given.
func withDefaultParams(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	path, rawQuery, _ := strings.Cut(dsn, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}

	var missing []string
	for _, p := range defaultParams {
		set := false
		for _, k := range p.keys {
			if _, ok := query[k]; ok {
				set = true
				break
			}
		}
		if !set {
			missing = append(missing, p.keys[0]+"="+p.value)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	if rawQuery != "" {
		missing = append([]string{rawQuery}, missing...)
	}
	return path + "?" + strings.Join(missing, "&")
}

// classifySQLiteError maps driver failures onto the intervention error kinds
func classifySQLiteError(err error) intervention.ErrorKind {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
			return intervention.KindTransient
		}
		return intervention.KindUnknown
	}
	switch se.Code {
	case sqlite3.ErrConstraint:
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return intervention.KindConflict
		}
		return intervention.KindValidation
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return intervention.KindTransient
	case sqlite3.ErrAuth, sqlite3.ErrPerm:
		return intervention.KindAuthorization
	}
	return intervention.KindUnknown
}
