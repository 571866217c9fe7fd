package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HendryAvila/specgate/internal/governance"
)

// InsertAuthority persists a compiled authority. A second authority for
// the same version fails with AlreadyCompiled; UNIQUE(version_id) is the
// final arbiter under concurrent compiles.
func (s *Store) InsertAuthority(ctx context.Context, a governance.CompiledAuthority) (*governance.CompiledAuthority, error) {
	a.CompiledAt = stamp(a.CompiledAt)

	cols := make([]string, 0, 5)
	for _, v := range []any{a.Scope, a.Invariants, a.EligibleItems, a.RejectedItems, a.OpenGaps} {
		enc, err := encodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("store: encode authority: %w", err)
		}
		cols = append(cols, enc)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.execHook(ctx, tx,
			`INSERT INTO compiled_authorities (id, version_id, compiler_version, prompt_fingerprint, source_hash,
				scope, invariants, eligible_items, rejected_items, open_gaps, compiled_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.VersionID, a.CompilerVersion, a.PromptFingerprint, a.SourceHash,
			cols[0], cols[1], cols[2], cols[3], cols[4], a.CompiledAt)
		if isUniqueViolation(err) {
			return governance.E(governance.AlreadyCompiled, "store.insert_authority",
				"version %d already has a compiled authority", a.VersionID)
		}
		if err != nil {
			return fmt.Errorf("store: insert authority: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AuthorityForVersion returns the authority compiled from a version.
// Absence is NotCompiled, not NotFound.
func (s *Store) AuthorityForVersion(ctx context.Context, versionID governance.VersionID) (*governance.CompiledAuthority, error) {
	var a governance.CompiledAuthority
	var scope, invs, eligible, rejected, gaps string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version_id, compiler_version, prompt_fingerprint, source_hash,
			scope, invariants, eligible_items, rejected_items, open_gaps, compiled_at
		 FROM compiled_authorities WHERE version_id = ?`, versionID).
		Scan(&a.ID, &a.VersionID, &a.CompilerVersion, &a.PromptFingerprint, &a.SourceHash,
			&scope, &invs, &eligible, &rejected, &gaps, &a.CompiledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, governance.E(governance.NotCompiled, "store.authority",
			"version %d has no compiled authority", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load authority: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst any
	}{
		{scope, &a.Scope},
		{invs, &a.Invariants},
		{eligible, &a.EligibleItems},
		{rejected, &a.RejectedItems},
		{gaps, &a.OpenGaps},
	} {
		if err := decodeJSON(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("store: decode authority: %w", err)
		}
	}
	return &a, nil
}
