// Package registry owns specification versions: registration, change
// review and explicit approval. Versions are immutable once written; an
// edit always registers a new version.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/store"
)

// DefaultMaxSpecBytes bounds registered content when no limit is configured.
const DefaultMaxSpecBytes = 1 << 20

// ErrContentTooLarge is wrapped in the InvalidInput error returned when
// content exceeds the configured limit.
var ErrContentTooLarge = errors.New("specification content too large")

// Registry manages specification versions.
type Registry struct {
	store    *store.Store
	maxBytes int
	log      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMaxSpecBytes bounds registered content size.
func WithMaxSpecBytes(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// New creates a Registry over the given store.
func New(s *store.Store, opts ...Option) *Registry {
	r := &Registry{store: s, maxBytes: DefaultMaxSpecBytes, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register always creates a new draft version for content. With a
// non-empty idempotency key, a version already registered under the same
// key in the project is returned instead.
func (r *Registry) Register(ctx context.Context, projectID, content, idempotencyKey string) (*governance.SpecificationVersion, error) {
	const op = "registry.register"
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, governance.E(governance.InvalidInput, op, "project id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, governance.E(governance.InvalidInput, op, "specification content is empty")
	}
	if len(content) > r.maxBytes {
		return nil, &governance.Error{Kind: governance.InvalidInput, Op: op, Err: ErrContentTooLarge,
			Msg: fmt.Sprintf("%d bytes exceeds limit of %d", len(content), r.maxBytes)}
	}

	v, created, err := r.store.CreateVersion(ctx, governance.SpecificationVersion{
		ProjectID:      projectID,
		IdempotencyKey: idempotencyKey,
	}, content)
	if err != nil {
		return nil, err
	}
	if created {
		r.log.Info("specification registered", "project", projectID, "version_id", int64(v.ID), "hash", v.ContentHash)
	} else {
		r.log.Info("specification registration replayed", "project", projectID, "version_id", int64(v.ID), "idempotency_key", idempotencyKey)
	}
	return v, nil
}

// ReviewChanges diffs a draft against an explicit base version (or
// against nothing when base is zero), records the review, and moves the
// draft to pending_review.
func (r *Registry) ReviewChanges(ctx context.Context, versionID, baseVersionID governance.VersionID) (*governance.ChangeReview, error) {
	const op = "registry.review_changes"
	v, err := r.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != governance.VersionDraft {
		return nil, governance.E(governance.InvalidTransition, op,
			"version %d is %s, only drafts can be reviewed", versionID, v.Status)
	}

	var baseContent string
	if !baseVersionID.IsZero() {
		if baseVersionID == versionID {
			return nil, governance.E(governance.InvalidInput, op, "a version cannot be reviewed against itself")
		}
		base, err := r.store.GetVersion(ctx, baseVersionID)
		if err != nil {
			return nil, err
		}
		if base.ProjectID != v.ProjectID {
			return nil, governance.E(governance.InvalidInput, op,
				"base version %d belongs to project %q, not %q", baseVersionID, base.ProjectID, v.ProjectID)
		}
		if baseContent, err = r.store.VersionContent(ctx, baseVersionID); err != nil {
			return nil, err
		}
	}
	content, err := r.store.VersionContent(ctx, versionID)
	if err != nil {
		return nil, err
	}

	diff, added, removed, err := Diff(baseContent, content, baseVersionID, versionID)
	if err != nil {
		return nil, err
	}
	review, err := r.store.CreateChangeReview(ctx, governance.ChangeReview{
		ID:            uuid.NewString(),
		VersionID:     versionID,
		BaseVersionID: baseVersionID,
		Diff:          diff,
		LinesAdded:    added,
		LinesRemoved:  removed,
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("change review recorded", "project", v.ProjectID, "version_id", int64(versionID),
		"base_version_id", int64(baseVersionID), "added", added, "removed", removed)
	return review, nil
}

// Approve records an explicit reviewer approval of a pending_review
// version. Any previously approved version of the project becomes
// superseded in the same transaction.
func (r *Registry) Approve(ctx context.Context, versionID governance.VersionID, reviewer, notes string) (*governance.SpecificationVersion, error) {
	const op = "registry.approve"
	if strings.TrimSpace(reviewer) == "" {
		return nil, governance.E(governance.InvalidInput, op, "reviewer is required")
	}
	v, err := r.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != governance.VersionPendingReview {
		return nil, governance.E(governance.InvalidTransition, op,
			"version %d is %s, must be pending_review", versionID, v.Status)
	}
	approved, err := r.store.ApproveVersion(ctx, versionID, reviewer, notes)
	if err != nil {
		return nil, err
	}
	r.log.Info("specification approved", "project", approved.ProjectID, "version_id", int64(versionID), "reviewer", reviewer)
	return approved, nil
}

// Get returns a version by id.
func (r *Registry) Get(ctx context.Context, versionID governance.VersionID) (*governance.SpecificationVersion, error) {
	return r.store.GetVersion(ctx, versionID)
}

// Content returns the immutable content of a version.
func (r *Registry) Content(ctx context.Context, versionID governance.VersionID) (string, error) {
	return r.store.VersionContent(ctx, versionID)
}

// Review returns the latest change review recorded for a version.
func (r *Registry) Review(ctx context.Context, versionID governance.VersionID) (*governance.ChangeReview, error) {
	return r.store.ChangeReview(ctx, versionID)
}

// Diff renders a unified diff between two contents and counts the added
// and removed lines.
func Diff(from, to string, fromID, toID governance.VersionID) (text string, added, removed int, err error) {
	fromName := "(none)"
	if !fromID.IsZero() {
		fromName = fromID.String()
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(from),
		B:        difflib.SplitLines(to),
		FromFile: fromName,
		ToFile:   toID.String(),
		Context:  3,
	}
	if from == "" {
		ud.A = nil
	}
	text, err = difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", 0, 0, governance.Wrap(governance.InvalidInput, "registry.diff", err)
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return text, added, removed, nil
}
