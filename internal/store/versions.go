package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HendryAvila/specgate/internal/governance"
)

const versionColumns = `id, project_id, content_ref, content_hash, status, approver,
	approval_notes, approved_at, idempotency_key, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*governance.SpecificationVersion, error) {
	var (
		v   governance.SpecificationVersion
		key sql.NullString
	)
	if err := row.Scan(&v.ID, &v.ProjectID, &v.ContentRef, &v.ContentHash, &v.Status,
		&v.Approver, &v.ApprovalNotes, &v.ApprovedAt, &key, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.IdempotencyKey = key.String
	return &v, nil
}

// CreateVersion stores content (content-addressed) and a new draft
// version for it. When the version carries an idempotency key already
// used in the project, the earlier version is returned and created is
// false.
func (s *Store) CreateVersion(ctx context.Context, v governance.SpecificationVersion, content string) (out *governance.SpecificationVersion, created bool, err error) {
	v.Status = governance.VersionDraft
	v.CreatedAt = stamp(v.CreatedAt)
	if v.ContentHash == "" {
		v.ContentHash = governance.ContentHash([]byte(content))
	}
	if v.ContentRef == "" {
		v.ContentRef = v.ContentHash
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if v.IdempotencyKey != "" {
			existing, err := scanVersion(tx.QueryRowContext(ctx,
				`SELECT `+versionColumns+` FROM spec_versions WHERE project_id = ? AND idempotency_key = ?`,
				v.ProjectID, v.IdempotencyKey))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("store: lookup idempotency key: %w", err)
			}
		}

		if _, err := s.execHook(ctx, tx,
			`INSERT OR IGNORE INTO spec_contents (content_ref, content, created_at) VALUES (?, ?, ?)`,
			v.ContentRef, content, v.CreatedAt); err != nil {
			return fmt.Errorf("store: insert content: %w", err)
		}

		res, err := s.execHook(ctx, tx,
			`INSERT INTO spec_versions (project_id, content_ref, content_hash, status, idempotency_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			v.ProjectID, v.ContentRef, v.ContentHash, v.Status, nullString(v.IdempotencyKey), v.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert version: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: version id: %w", err)
		}
		v.ID = governance.VersionID(id)
		out = &v
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GetVersion returns the version with the given id.
func (s *Store) GetVersion(ctx context.Context, id governance.VersionID) (*governance.SpecificationVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM spec_versions WHERE id = ?`, id))
	if err != nil {
		return nil, noRows(err, "store.get_version", "version %d not found", id)
	}
	return v, nil
}

// VersionContent returns the immutable content of a version.
func (s *Store) VersionContent(ctx context.Context, id governance.VersionID) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT c.content FROM spec_versions v JOIN spec_contents c ON c.content_ref = v.content_ref WHERE v.id = ?`,
		id).Scan(&content)
	if err != nil {
		return "", noRows(err, "store.version_content", "version %d not found", id)
	}
	return content, nil
}

// CreateChangeReview records a review for a draft version and moves the
// version to pending_review in the same transaction.
func (s *Store) CreateChangeReview(ctx context.Context, r governance.ChangeReview) (*governance.ChangeReview, error) {
	r.CreatedAt = stamp(r.CreatedAt)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.execHook(ctx, tx,
			`UPDATE spec_versions SET status = ? WHERE id = ? AND status = ?`,
			governance.VersionPendingReview, r.VersionID, governance.VersionDraft)
		if err != nil {
			return fmt.Errorf("store: mark pending review: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.transitionError(ctx, tx, "store.create_change_review", r.VersionID, governance.VersionDraft)
		}

		var base sql.NullInt64
		if r.BaseVersionID != 0 {
			base = nullVersion(r.BaseVersionID)
		}
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO change_reviews (id, version_id, base_version_id, diff, lines_added, lines_removed, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.VersionID, base, r.Diff, r.LinesAdded, r.LinesRemoved, r.CreatedAt); err != nil {
			return fmt.Errorf("store: insert change review: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ChangeReview returns the most recent review recorded for a version.
func (s *Store) ChangeReview(ctx context.Context, versionID governance.VersionID) (*governance.ChangeReview, error) {
	var (
		r    governance.ChangeReview
		base sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version_id, base_version_id, diff, lines_added, lines_removed, created_at
		 FROM change_reviews WHERE version_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		versionID).Scan(&r.ID, &r.VersionID, &base, &r.Diff, &r.LinesAdded, &r.LinesRemoved, &r.CreatedAt)
	if err != nil {
		return nil, noRows(err, "store.change_review", "no change review for version %d", versionID)
	}
	r.BaseVersionID = governance.VersionID(base.Int64)
	return &r, nil
}

// ApproveVersion moves a pending_review version to approved and
// supersedes any previously approved version of the same project.
func (s *Store) ApproveVersion(ctx context.Context, id governance.VersionID, approver, notes string) (*governance.SpecificationVersion, error) {
	at := governance.Timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.execHook(ctx, tx,
			`UPDATE spec_versions SET status = ?, approver = ?, approval_notes = ?, approved_at = ?
			 WHERE id = ? AND status = ?`,
			governance.VersionApproved, approver, notes, at, id, governance.VersionPendingReview)
		if err != nil {
			return fmt.Errorf("store: approve version: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.transitionError(ctx, tx, "store.approve_version", id, governance.VersionPendingReview)
		}

		if _, err := s.execHook(ctx, tx,
			`UPDATE spec_versions SET status = ?
			 WHERE project_id = (SELECT project_id FROM spec_versions WHERE id = ?)
			   AND status = ? AND id <> ?`,
			governance.VersionSuperseded, id, governance.VersionApproved, id); err != nil {
			return fmt.Errorf("store: supersede versions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetVersion(ctx, id)
}

// transitionError explains why a conditional status UPDATE matched no row.
func (s *Store) transitionError(ctx context.Context, q queryer, op string, id governance.VersionID, want governance.VersionStatus) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM spec_versions WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return noRows(err, op, "version %d not found", id)
	}
	return governance.E(governance.InvalidTransition, op,
		"version %d is %s, must be %s", id, status, want)
}

// LatestApprovedVersion returns the project's approved version. It backs
// derived status queries only; generation and validation always take an
// explicit pin.
func (s *Store) LatestApprovedVersion(ctx context.Context, projectID string) (*governance.SpecificationVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM spec_versions
		 WHERE project_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		projectID, governance.VersionApproved))
	if err != nil {
		return nil, noRows(err, "store.latest_approved", "project %q has no approved version", projectID)
	}
	return v, nil
}

// NewestVersion returns the highest-numbered version of the project.
// Derived status queries only.
func (s *Store) NewestVersion(ctx context.Context, projectID string) (*governance.SpecificationVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM spec_versions WHERE project_id = ? ORDER BY id DESC LIMIT 1`,
		projectID))
	if err != nil {
		return nil, noRows(err, "store.newest_version", "project %q has no versions", projectID)
	}
	return v, nil
}

// ListVersions returns every version of a project in id order.
func (s *Store) ListVersions(ctx context.Context, projectID string) ([]governance.SpecificationVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM spec_versions WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	defer rows.Close()

	var out []governance.SpecificationVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
