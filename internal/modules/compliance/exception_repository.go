package compliance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/quantcore/internal/database"
	"github.com/rs/zerolog"
)

// ErrVersionConflict is returned when an appended version does not follow the latest one
var ErrVersionConflict = errors.New("exception version conflict")

const exceptionColumns = `id, version, violation_id, justification, requested_by, status,
	reviewed_by, reviewed_at, created_at`

// SQLiteExceptionRepository stores the exception ledger
// Database: ledger.db (compliance_exceptions table, append-only)
type SQLiteExceptionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteExceptionRepository creates an exception repository over the ledger database
func NewSQLiteExceptionRepository(ledgerDB *sql.DB, log zerolog.Logger) *SQLiteExceptionRepository {
	return &SQLiteExceptionRepository{
		db:  ledgerDB,
		log: log.With().Str("repository", "compliance_exception").Logger(),
	}
}

// Append inserts req if its version directly follows the stored latest
func (r *SQLiteExceptionRepository) Append(ctx context.Context, req ExceptionRequest) error {
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		var latest sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(version) FROM compliance_exceptions WHERE id = ?`, req.ID,
		).Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest version: %w", err)
		}
		if int(latest.Int64)+1 != req.Version {
			return fmt.Errorf("%w: %s has version %d, got %d", ErrVersionConflict, req.ID, latest.Int64, req.Version)
		}

		var reviewedBy sql.NullString
		var reviewedAt sql.NullInt64
		if req.ReviewedBy != "" {
			reviewedBy = sql.NullString{String: req.ReviewedBy, Valid: true}
		}
		if req.ReviewedAt != nil {
			reviewedAt = sql.NullInt64{Int64: req.ReviewedAt.Unix(), Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO compliance_exceptions
			(`+exceptionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			req.ID,
			req.Version,
			req.ViolationID,
			req.Justification,
			req.RequestedBy,
			string(req.Status),
			reviewedBy,
			reviewedAt,
			req.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert exception: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().
		Str("exception_id", req.ID).
		Int("version", req.Version).
		Str("status", string(req.Status)).
		Msg("Appended exception version")
	return nil
}

// Latest returns the newest version of id
func (r *SQLiteExceptionRepository) Latest(ctx context.Context, id string) (*ExceptionRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+exceptionColumns+`
		FROM compliance_exceptions
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`, id)
	req, err := scanException(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrExceptionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query exception: %w", err)
	}
	return req, nil
}

// History returns every version of id, oldest first
func (r *SQLiteExceptionRepository) History(ctx context.Context, id string) ([]ExceptionRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exceptionColumns+`
		FROM compliance_exceptions
		WHERE id = ?
		ORDER BY version
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query exception history: %w", err)
	}
	history, err := collectExceptions(rows)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExceptionNotFound, id)
	}
	return history, nil
}

// ByViolation returns the latest version of each exception raised against violationID
func (r *SQLiteExceptionRepository) ByViolation(ctx context.Context, violationID string) ([]ExceptionRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exceptionColumns+`
		FROM compliance_exceptions e
		WHERE violation_id = ?
		  AND version = (SELECT MAX(version) FROM compliance_exceptions WHERE id = e.id)
		ORDER BY (SELECT MIN(seq) FROM compliance_exceptions WHERE id = e.id)
	`, violationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions by violation: %w", err)
	}
	return collectExceptions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanException(row rowScanner) (*ExceptionRequest, error) {
	var req ExceptionRequest
	var status string
	var reviewedBy sql.NullString
	var reviewedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&req.ID,
		&req.Version,
		&req.ViolationID,
		&req.Justification,
		&req.RequestedBy,
		&status,
		&reviewedBy,
		&reviewedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = ExceptionStatus(status)
	if reviewedBy.Valid {
		req.ReviewedBy = reviewedBy.String
	}
	if reviewedAt.Valid {
		t := time.Unix(reviewedAt.Int64, 0).UTC()
		req.ReviewedAt = &t
	}
	req.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &req, nil
}

func collectExceptions(rows *sql.Rows) ([]ExceptionRequest, error) {
	defer rows.Close()

	out := []ExceptionRequest{}
	for rows.Next() {
		req, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exception: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exceptions: %w", err)
	}
	return out, nil
}
