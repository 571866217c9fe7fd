package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HendryAvila/specgate/internal/governance"
)

const artifactColumns = `id, project_id, kind, title, body, fields, acceptance_criteria, topics,
	status, content_hash, accepted_spec_version_id, created_at, updated_at`

func scanArtifact(row rowScanner) (*governance.Artifact, error) {
	var a governance.Artifact
	var fields, criteria, tops string
	var pin sql.NullInt64
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Kind, &a.Title, &a.Body, &fields, &criteria, &tops,
		&a.Status, &a.ContentHash, &pin, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(fields, &a.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if err := decodeJSON(criteria, &a.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("decode acceptance criteria: %w", err)
	}
	if err := decodeJSON(tops, &a.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	a.AcceptedSpecVersionID = governance.VersionID(pin.Int64)
	return &a, nil
}

const evidenceColumns = `seq, id, artifact_id, project_id, version_id, validator_version, input_hash,
	rules, passed, warnings, relied_invariants, attempt_key, created_at`

func scanEvidence(row rowScanner) (*governance.ValidationEvidence, error) {
	var e governance.ValidationEvidence
	var rules, warnings, relied string
	var passed int
	var key sql.NullString
	if err := row.Scan(&e.Seq, &e.ID, &e.ArtifactID, &e.ProjectID, &e.VersionID, &e.ValidatorVersion,
		&e.InputHash, &rules, &passed, &warnings, &relied, &key, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(rules, &e.Rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := decodeJSON(warnings, &e.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	if err := decodeJSON(relied, &e.ReliedInvariants); err != nil {
		return nil, fmt.Errorf("decode relied invariants: %w", err)
	}
	e.Passed = passed != 0
	e.AttemptKey = key.String
	return &e, nil
}

// GetArtifact returns the artifact with the given id.
func (s *Store) GetArtifact(ctx context.Context, id string) (*governance.Artifact, error) {
	a, err := scanArtifact(s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id))
	if err != nil {
		return nil, noRows(err, "store.get_artifact", "artifact %q not found", id)
	}
	return a, nil
}

// ListArtifacts returns a project's artifacts ordered by creation.
func (s *Store) ListArtifacts(ctx context.Context, projectID string) ([]governance.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []governance.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetArtifactStatus changes an artifact's delivery state.
func (s *Store) SetArtifactStatus(ctx context.Context, id string, status governance.ArtifactStatus) error {
	if !governance.ValidArtifactStatus(status) {
		return governance.E(governance.InvalidInput, "store.set_artifact_status", "invalid artifact status %q", status)
	}
	res, err := s.execHook(ctx, s.db,
		`UPDATE artifacts SET status = ?, updated_at = ? WHERE id = ?`,
		status, governance.Timestamp(), id)
	if err != nil {
		return fmt.Errorf("store: set artifact status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("store.set_artifact_status", "artifact %q not found", id)
	}
	return nil
}

// PinnedArtifactCounts counts a project's artifacts pinned to version,
// grouped by kind.
func (s *Store) PinnedArtifactCounts(ctx context.Context, projectID string, versionID governance.VersionID) (map[governance.ArtifactKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM artifacts
		 WHERE project_id = ? AND accepted_spec_version_id = ? GROUP BY kind`,
		projectID, versionID)
	if err != nil {
		return nil, fmt.Errorf("store: pinned artifacts: %w", err)
	}
	defer rows.Close()

	out := make(map[governance.ArtifactKind]int)
	for rows.Next() {
		var (
			kind governance.ArtifactKind
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: scan pinned count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// ─── Validation evidence ─────────────────────────────────────────────────────

// RecordValidation persists one validation attempt atomically: the
// artifact upsert, the evidence row and the artifact pin. The pin is set
// to the evidence version on pass and cleared on fail, as the last
// statement of the transaction.
//
// When the evidence carries an attempt key that was already recorded,
// nothing is written and the earlier evidence is returned with
// recorded false. Reusing a key for a different artifact, project,
// version or input is InvalidInput.
func (s *Store) RecordValidation(ctx context.Context, a governance.Artifact, e governance.ValidationEvidence) (out *governance.ValidationEvidence, recorded bool, err error) {
	now := governance.Timestamp()
	e.CreatedAt = stamp(e.CreatedAt)
	if a.CreatedAt == "" {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	fields, err := encodeJSON(a.Fields)
	if err != nil {
		return nil, false, fmt.Errorf("store: encode fields: %w", err)
	}
	criteria, err := encodeJSON(a.AcceptanceCriteria)
	if err != nil {
		return nil, false, fmt.Errorf("store: encode acceptance criteria: %w", err)
	}
	topics, err := encodeJSON(a.Topics)
	if err != nil {
		return nil, false, fmt.Errorf("store: encode topics: %w", err)
	}
	rules, err := encodeJSON(e.Rules)
	if err != nil {
		return nil, false, fmt.Errorf("store: encode rules: %w", err)
	}
	warnings, err := encodeJSON(e.Warnings)
	if err != nil {
		return nil, false, fmt.Errorf("store: encode warnings: %w", err)
	}
	relied, err := encodeJSON(e.ReliedInvariants)
	if err != nil {
		return nil, false, fmt.Errorf("store: encode relied invariants: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if e.AttemptKey != "" {
			existing, err := scanEvidence(tx.QueryRowContext(ctx,
				`SELECT `+evidenceColumns+` FROM validation_evidence WHERE attempt_key = ?`, e.AttemptKey))
			if err == nil {
				if !existing.SameAttempt(&e) {
					return governance.E(governance.InvalidInput, "store.record_validation",
						"attempt key %q was recorded for a different validation input", e.AttemptKey)
				}
				out = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("store: lookup attempt key: %w", err)
			}
		}

		if _, err := s.execHook(ctx, tx,
			`INSERT INTO artifacts (id, project_id, kind, title, body, fields, acceptance_criteria, topics,
				status, content_hash, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				title = excluded.title,
				body = excluded.body,
				fields = excluded.fields,
				acceptance_criteria = excluded.acceptance_criteria,
				topics = excluded.topics,
				status = excluded.status,
				content_hash = excluded.content_hash,
				updated_at = excluded.updated_at`,
			a.ID, a.ProjectID, a.Kind, a.Title, a.Body, fields, criteria, topics,
			a.Status, a.ContentHash, a.CreatedAt, a.UpdatedAt); err != nil {
			return fmt.Errorf("store: upsert artifact: %w", err)
		}

		res, err := s.execHook(ctx, tx,
			`INSERT INTO validation_evidence (id, artifact_id, project_id, version_id, validator_version, input_hash,
				rules, passed, warnings, relied_invariants, attempt_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ArtifactID, e.ProjectID, e.VersionID, e.ValidatorVersion, e.InputHash,
			rules, boolInt(e.Passed), warnings, relied, nullString(e.AttemptKey), e.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert evidence: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: evidence seq: %w", err)
		}
		e.Seq = seq

		var pin sql.NullInt64
		if e.Passed {
			pin = nullVersion(e.VersionID)
		}
		if _, err := s.execHook(ctx, tx,
			`UPDATE artifacts SET accepted_spec_version_id = ? WHERE id = ?`, pin, a.ID); err != nil {
			return fmt.Errorf("store: set artifact pin: %w", err)
		}

		out = &e
		recorded = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, recorded, nil
}

// EvidenceByAttemptKey returns evidence recorded under an attempt key.
func (s *Store) EvidenceByAttemptKey(ctx context.Context, key string) (*governance.ValidationEvidence, error) {
	e, err := scanEvidence(s.db.QueryRowContext(ctx,
		`SELECT `+evidenceColumns+` FROM validation_evidence WHERE attempt_key = ?`, key))
	if err != nil {
		return nil, noRows(err, "store.evidence_by_attempt", "no evidence for attempt %q", key)
	}
	return e, nil
}

// EvidenceForArtifact returns every evidence row of an artifact in
// sequence order.
func (s *Store) EvidenceForArtifact(ctx context.Context, artifactID string) ([]governance.ValidationEvidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evidenceColumns+` FROM validation_evidence WHERE artifact_id = ? ORDER BY seq`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("store: artifact evidence: %w", err)
	}
	defer rows.Close()

	var out []governance.ValidationEvidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan evidence: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ValidatedArtifact pairs an artifact with the evidence that validated it.
type ValidatedArtifact struct {
	Artifact governance.Artifact
	Evidence governance.ValidationEvidence
}

// ArtifactsValidatedUnder returns every artifact with passing evidence
// under a version, each with its latest passing evidence for that
// version. Results are ordered by artifact id.
func (s *Store) ArtifactsValidatedUnder(ctx context.Context, versionID governance.VersionID) ([]ValidatedArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evidenceColumns+` FROM validation_evidence e
		 WHERE e.version_id = ? AND e.passed = 1
		   AND e.seq = (SELECT MAX(x.seq) FROM validation_evidence x
		                WHERE x.artifact_id = e.artifact_id AND x.version_id = e.version_id AND x.passed = 1)
		 ORDER BY e.artifact_id`, versionID)
	if err != nil {
		return nil, fmt.Errorf("store: validated artifacts: %w", err)
	}

	var evidence []governance.ValidationEvidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan evidence: %w", err)
		}
		evidence = append(evidence, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]ValidatedArtifact, 0, len(evidence))
	for _, e := range evidence {
		a, err := s.GetArtifact(ctx, e.ArtifactID)
		if err != nil {
			return nil, err
		}
		out = append(out, ValidatedArtifact{Artifact: *a, Evidence: e})
	}
	return out, nil
}
