package store

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*JobsRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}

	sqlxDb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { sqlxDb.Close() })

	return NewJobsRepository(sqlxDb), mock
}

func TestJobStarted(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO transcode_jobs`).
		WithArgs("session-1", "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.JobStarted("session-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobFinished(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE transcode_jobs SET state`).
		WithArgs("terminated", sqlmock.AnyArg(), "session-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.JobFinished("session-1", "terminated"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"id", "session_id", "state", "started_at", "finished_at"}).
		AddRow(2, "session-2", "running", time.Now(), nil)

	mock.ExpectQuery(`SELECT id, session_id, state, started_at, finished_at`).
		WithArgs(50).
		WillReturnRows(rows)

	records, err := repo.Recent(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "session-2", records[0].SessionID)
}
