// Package store persists transcode job history. Persistence is optional:
// without a database DSN the gateway runs on the no-op implementation.
package store

import (
	"time"

	"github.com/jmoiron/sqlx"
	// Registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/glowmedia/streamgate/internal/core"
)

// JobRecord is one row of transcode job history.
type JobRecord struct {
	ID         int64      `db:"id"`
	SessionID  string     `db:"session_id"`
	State      string     `db:"state"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

type JobsRepository struct {
	db *sqlx.DB
}

func NewJobsRepository(db *sqlx.DB) *JobsRepository {
	return &JobsRepository{
		db: db,
	}
}

// Open connects to the configured database.
func Open(dsn string) (*sqlx.DB, error) {
	return sqlx.Connect("pgx", dsn)
}

func (r *JobsRepository) JobStarted(sid core.SessionID) error {
	_, err := r.db.Exec(
		`INSERT INTO transcode_jobs (session_id, state, started_at) VALUES ($1, $2, $3)`,
		string(sid),
		"running",
		time.Now(),
	)

	return err
}

func (r *JobsRepository) JobFinished(sid core.SessionID, state string) error {
	_, err := r.db.Exec(
		`UPDATE transcode_jobs SET state = $1, finished_at = $2
			WHERE session_id = $3 AND finished_at IS NULL`,
		state,
		time.Now(),
		string(sid),
	)

	return err
}

// Recent returns the latest job records, newest first.
func (r *JobsRepository) Recent(limit int) ([]*JobRecord, error) {
	if limit == 0 {
		limit = 50
	}

	records := []*JobRecord{}
	err := r.db.Select(&records,
		`SELECT id, session_id, state, started_at, finished_at
			FROM transcode_jobs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return records, nil
}

// NullHistory is the no-op job history used when persistence is disabled.
type NullHistory struct{}

func (NullHistory) JobStarted(core.SessionID) error          { return nil }
func (NullHistory) JobFinished(core.SessionID, string) error { return nil }
