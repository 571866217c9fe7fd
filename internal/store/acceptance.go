package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HendryAvila/specgate/internal/governance"
)

const acceptanceColumns = `seq, id, project_id, version_id, decision, policy, reviewer,
	rationale, idempotency_key, created_at`

func scanAcceptance(row rowScanner) (*governance.AcceptanceRecord, error) {
	var (
		r   governance.AcceptanceRecord
		key sql.NullString
	)
	if err := row.Scan(&r.Seq, &r.ID, &r.ProjectID, &r.VersionID, &r.Decision, &r.Policy,
		&r.Reviewer, &r.Rationale, &key, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.IdempotencyKey = key.String
	return &r, nil
}

// AppendAcceptance appends a decision. A record already stored under the
// same idempotency key is returned instead, with appended false.
func (s *Store) AppendAcceptance(ctx context.Context, r governance.AcceptanceRecord) (out *governance.AcceptanceRecord, appended bool, err error) {
	r.CreatedAt = stamp(r.CreatedAt)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if r.IdempotencyKey != "" {
			existing, err := scanAcceptance(tx.QueryRowContext(ctx,
				`SELECT `+acceptanceColumns+` FROM acceptance_records WHERE idempotency_key = ?`,
				r.IdempotencyKey))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("store: lookup acceptance key: %w", err)
			}
		}

		res, err := s.execHook(ctx, tx,
			`INSERT INTO acceptance_records (id, project_id, version_id, decision, policy, reviewer, rationale, idempotency_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ProjectID, r.VersionID, r.Decision, r.Policy, r.Reviewer, r.Rationale,
			nullString(r.IdempotencyKey), r.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert acceptance: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: acceptance seq: %w", err)
		}
		r.Seq = seq
		out = &r
		appended = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, appended, nil
}

// LatestAcceptance returns the highest-sequence record for a
// (project, version) pair.
func (s *Store) LatestAcceptance(ctx context.Context, projectID string, versionID governance.VersionID) (*governance.AcceptanceRecord, error) {
	r, err := scanAcceptance(s.db.QueryRowContext(ctx,
		`SELECT `+acceptanceColumns+` FROM acceptance_records
		 WHERE project_id = ? AND version_id = ? ORDER BY seq DESC LIMIT 1`,
		projectID, versionID))
	if err != nil {
		return nil, noRows(err, "store.latest_acceptance", "no decision for %s version %d", projectID, versionID)
	}
	return r, nil
}

// AcceptanceHistory returns every record for a pair in sequence order.
func (s *Store) AcceptanceHistory(ctx context.Context, projectID string, versionID governance.VersionID) ([]governance.AcceptanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+acceptanceColumns+` FROM acceptance_records
		 WHERE project_id = ? AND version_id = ? ORDER BY seq`,
		projectID, versionID)
	if err != nil {
		return nil, fmt.Errorf("store: acceptance history: %w", err)
	}
	defer rows.Close()

	var out []governance.AcceptanceRecord
	for rows.Next() {
		r, err := scanAcceptance(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan acceptance: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
