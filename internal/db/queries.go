package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/record"
)

const analysisColumns = `
	id, kind, action, action_norm, names_json, model, prompt_bytes,
	response, response_chars, tokens_estimate, error_code, error_message,
	duration_ms, created_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// InsertActivation stores one launch activation.
func InsertActivation(db *sql.DB, a *record.Activation) error {
	argsJSON, err := marshalStrings(a.Args)
	if err != nil {
		return errors.NewInternal(err)
	}
	pathsJSON, err := marshalStrings(a.Paths)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO activations (id, args_json, cwd, kind, paths_json, parse_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.Exec(query,
		a.ID, argsJSON, toNullString(&a.Cwd), toNullString(a.Kind),
		pathsJSON, toNullString(a.ParseError), a.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListActivations returns activations newest first, plus the total count.
func ListActivations(db *sql.DB, limit, offset int) ([]record.Activation, int, error) {
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM activations`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.Query(`
		SELECT id, args_json, cwd, kind, paths_json, parse_error, created_at
		FROM activations
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []record.Activation
	for rows.Next() {
		var (
			a          record.Activation
			argsJSON   string
			pathsJSON  string
			cwd        sql.NullString
			kind       sql.NullString
			parseError sql.NullString
		)
		if err := rows.Scan(&a.ID, &argsJSON, &cwd, &kind, &pathsJSON, &parseError, &a.CreatedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &a.Args); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		if err := json.Unmarshal([]byte(pathsJSON), &a.Paths); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		a.Cwd = cwd.String
		a.Kind = fromNullString(kind)
		a.ParseError = fromNullString(parseError)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return items, total, nil
}

// InsertAnalysis stores a finished (or failed) analysis.
func InsertAnalysis(db *sql.DB, a *record.Analysis) error {
	namesJSON, err := marshalStrings(a.Names)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `INSERT INTO analyses (` + analysisColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.Exec(query,
		a.ID, a.Kind, a.Action, a.ActionNorm, namesJSON, a.Model, a.PromptBytes,
		a.Response, a.ResponseChars, a.TokensEstimate,
		toNullString(a.ErrorCode), toNullString(a.ErrorMessage),
		a.DurationMillis, a.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetAnalysis retrieves an analysis by its ULID.
func GetAnalysis(db *sql.DB, id string) (*record.Analysis, error) {
	row := db.QueryRow(`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// ListAnalyses returns analysis summaries newest first, optionally filtered by
// kind, plus the total count for the filter.
func ListAnalyses(db *sql.DB, kind string, limit, offset int) ([]record.AnalysisSummary, int, error) {
	where, args := kindFilter(kind)

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM analyses`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + analysisColumns + ` FROM analyses` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []record.AnalysisSummary
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, a.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return items, total, nil
}

// StreamAnalyses returns rows for export, oldest first. Callers must close rows
// and read them with ScanAnalysisFromRows.
func StreamAnalyses(ctx context.Context, db *sql.DB, kind string) (*sql.Rows, error) {
	where, args := kindFilter(kind)
	query := `SELECT ` + analysisColumns + ` FROM analyses` + where + ` ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanAnalysisFromRows scans the current row of a StreamAnalyses result.
func ScanAnalysisFromRows(rows *sql.Rows) (*record.Analysis, error) {
	return scanAnalysis(rows)
}

func kindFilter(kind string) (string, []any) {
	if kind == "" {
		return "", nil
	}
	return ` WHERE kind = ?`, []any{kind}
}

func scanAnalysis(row scanner) (*record.Analysis, error) {
	var (
		a            record.Analysis
		namesJSON    string
		errorCode    sql.NullString
		errorMessage sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Kind, &a.Action, &a.ActionNorm, &namesJSON, &a.Model, &a.PromptBytes,
		&a.Response, &a.ResponseChars, &a.TokensEstimate, &errorCode, &errorMessage,
		&a.DurationMillis, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(namesJSON), &a.Names); err != nil {
		return nil, err
	}
	a.ErrorCode = fromNullString(errorCode)
	a.ErrorMessage = fromNullString(errorMessage)
	return &a, nil
}

func marshalStrings(s []string) (string, error) {
	if s == nil {
		s = []string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// toNullString converts a *string to sql.NullString. Empty strings are stored as NULL.
func toNullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
