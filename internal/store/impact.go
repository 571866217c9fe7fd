package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HendryAvila/specgate/internal/governance"
)

// InsertImpactReport persists a report produced by the impact analyzer.
func (s *Store) InsertImpactReport(ctx context.Context, r governance.ImpactReport) (*governance.ImpactReport, error) {
	r.CreatedAt = stamp(r.CreatedAt)
	fp, err := r.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("store: fingerprint report: %w", err)
	}
	body, err := encodeJSON(r)
	if err != nil {
		return nil, fmt.Errorf("store: encode report: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO impact_reports (id, from_version, to_version, fingerprint, report, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.FromVersion, r.ToVersion, fp, body, r.CreatedAt); err != nil {
			return fmt.Errorf("store: insert impact report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetImpactReport returns a persisted report.
func (s *Store) GetImpactReport(ctx context.Context, id string) (*governance.ImpactReport, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM impact_reports WHERE id = ?`, id).Scan(&body)
	if err != nil {
		return nil, noRows(err, "store.get_impact_report", "impact report %q not found", id)
	}
	var r governance.ImpactReport
	if err := decodeJSON(body, &r); err != nil {
		return nil, fmt.Errorf("store: decode impact report: %w", err)
	}
	return &r, nil
}
