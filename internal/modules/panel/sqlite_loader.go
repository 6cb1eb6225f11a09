package panel

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
)

// SQLiteLoader reads universes and daily bars from the market database
type SQLiteLoader struct {
	marketDB *sql.DB
	log      zerolog.Logger
}

// NewSQLiteLoader creates a loader over the market database
func NewSQLiteLoader(marketDB *sql.DB, log zerolog.Logger) *SQLiteLoader {
	return &SQLiteLoader{
		marketDB: marketDB,
		log:      log.With().Str("repo", "panel").Logger(),
	}
}

// Universe returns the instruments of universeID in stored order
func (l *SQLiteLoader) Universe(ctx context.Context, universeID string) (*domain.Universe, error) {
	rows, err := l.marketDB.QueryContext(ctx,
		`SELECT instrument_id, sector, country FROM universes WHERE universe_id = ? ORDER BY position`, universeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query universe: %w", err)
	}
	defer rows.Close()

	u := &domain.Universe{ID: universeID}
	for rows.Next() {
		var inst domain.Instrument
		if err := rows.Scan(&inst.ID, &inst.Sector, &inst.Country); err != nil {
			return nil, fmt.Errorf("failed to scan universe row: %w", err)
		}
		u.Instruments = append(u.Instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate universe rows: %w", err)
	}
	if len(u.Instruments) == 0 {
		return nil, quanterr.Configuration("panel.load", "universe not found: %s", universeID)
	}
	return u, nil
}

// Load builds the panel for the request. Every date on which any instrument
// has a bar joins the calendar; missing cells become explicit NaN gaps.
func (l *SQLiteLoader) Load(ctx context.Context, req Request) (*Panel, error) {
	u, err := l.Universe(ctx, req.UniverseID)
	if err != nil {
		return nil, err
	}

	query := `SELECT b.instrument_id, b.date, b.field, b.value
		FROM daily_bars b
		JOIN universes u ON u.instrument_id = b.instrument_id AND u.universe_id = ?
		WHERE 1 = 1`
	args := []interface{}{req.UniverseID}
	if !req.From.IsZero() {
		query += " AND b.date >= ?"
		args = append(args, normalizeDate(req.From).Unix())
	}
	if !req.To.IsZero() {
		query += " AND b.date <= ?"
		args = append(args, normalizeDate(req.To).Unix())
	}
	if len(req.Fields) > 0 {
		query += " AND b.field IN (?" + strings.Repeat(", ?", len(req.Fields)-1) + ")"
		for _, f := range req.Fields {
			args = append(args, f)
		}
	}
	query += " ORDER BY b.date"

	rows, err := l.marketDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars: %w", err)
	}
	defer rows.Close()

	b := NewBuilder(u.IDs())
	count := 0
	for rows.Next() {
		var (
			instrument string
			unix       int64
			field      string
			value      sql.NullFloat64
		)
		if err := rows.Scan(&instrument, &unix, &field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}
		date := time.Unix(unix, 0).UTC()
		if !value.Valid {
			b.AddDate(date)
			continue
		}
		if err := b.Set(instrument, date, field, value.Float64); err != nil {
			return nil, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily bars: %w", err)
	}

	p := b.Build()
	l.log.Debug().
		Str("universe", req.UniverseID).
		Int("observations", count).
		Str("shape", p.String()).
		Msg("Loaded panel")
	return p, nil
}

// SaveUniverse replaces the stored membership of a universe
func (l *SQLiteLoader) SaveUniverse(ctx context.Context, u *domain.Universe) error {
	tx, err := l.marketDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM universes WHERE universe_id = ?`, u.ID); err != nil {
		return fmt.Errorf("failed to clear universe: %w", err)
	}
	for pos, inst := range u.Instruments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO universes (universe_id, position, instrument_id, sector, country) VALUES (?, ?, ?, ?, ?)`,
			u.ID, pos, inst.ID, inst.Sector, inst.Country); err != nil {
			return fmt.Errorf("failed to insert instrument %s: %w", inst.ID, err)
		}
	}
	return tx.Commit()
}

// SavePanel upserts every finite observation of p
func (l *SQLiteLoader) SavePanel(ctx context.Context, p *Panel) error {
	tx, err := l.marketDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO daily_bars (instrument_id, date, field, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for field, grid := range p.Fields {
		for i, series := range grid {
			for t, v := range series {
				var value interface{} = v
				if math.IsNaN(v) {
					value = nil
				}
				if _, err := stmt.ExecContext(ctx, p.Instruments[i], p.Dates[t].Unix(), field, value); err != nil {
					return fmt.Errorf("failed to insert bar %s/%s: %w", p.Instruments[i], field, err)
				}
			}
		}
	}
	return tx.Commit()
}
