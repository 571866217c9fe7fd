package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/HendryAvila/specgate/internal/governance"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: db, hooks: defaultStoreHooks()}, mock
}

func TestInsertAuthority_UniqueViolationMapsToAlreadyCompiled(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO compiled_authorities").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: compiled_authorities.version_id (2067)"))
	mock.ExpectRollback()

	_, err := s.InsertAuthority(context.Background(), governance.CompiledAuthority{ID: "a", VersionID: 1})
	if !errors.Is(err, governance.AlreadyCompiled) {
		t.Errorf("err = %v, want AlreadyCompiled", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordValidation_RollsBackWhenPinFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM validation_evidence WHERE attempt_key").
		WithArgs("k").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO artifacts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO validation_evidence").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("UPDATE artifacts SET accepted_spec_version_id").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	art := governance.Artifact{ID: "x", ProjectID: "p", Kind: governance.KindStory, Title: "t", Status: governance.ArtifactDraft}
	ev := governance.ValidationEvidence{ID: "e", ArtifactID: "x", ProjectID: "p", VersionID: 1, Passed: true, AttemptKey: "k"}

	_, recorded, err := s.RecordValidation(context.Background(), art, ev)
	if err == nil {
		t.Fatal("expected error when pin update fails")
	}
	if recorded {
		t.Error("recorded = true on rolled back transaction")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_CommitFailure(t *testing.T) {
	s, mock := newMockStore(t)
	s.hooks.commit = func(tx *sql.Tx) error { return errors.New("commit refused") }

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO impact_reports").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	_, err := s.InsertImpactReport(context.Background(), governance.ImpactReport{ID: "r", FromVersion: 1, ToVersion: 2})
	if err == nil || err.Error() != "store: commit: commit refused" {
		t.Errorf("err = %v, want commit failure", err)
	}
}

func TestApproveVersion_ExecHookFailure(t *testing.T) {
	s, mock := newMockStore(t)
	s.hooks.exec = func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
		return nil, errors.New("injected")
	}

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.ApproveVersion(context.Background(), 1, "ana", "")
	if err == nil {
		t.Fatal("expected injected error")
	}
	if governance.IsGovernance(err) {
		t.Errorf("storage failure surfaced as governance error: %v", err)
	}
}
