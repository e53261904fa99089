package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"gend/pkg/types"
)

// sqliteStore is the default driver: one local file, zero setup. A single
// connection avoids SQLITE_BUSY games; the daemon's write rate (checkpoint
// cadence per running job) is far below what one connection handles.
type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database file and bootstraps the
// schema.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavail("open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, unavail("sqlite pragma", err)
		}
	}

	s := &sqliteStore{db: db, log: log}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("sqlite job store ready")
	return s, nil
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		model_id TEXT NOT NULL,
		modality TEXT NOT NULL CHECK (modality IN ('text','image')),
		params TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('queued','running','cancelling','completed','failed','cancelled')),
		output TEXT NOT NULL DEFAULT '',
		artifact_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	CREATE TABLE IF NOT EXISTS job_artifacts (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		mime TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (job_id, seq)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return unavail("init sqlite schema", err)
	}
	return nil
}

func (s *sqliteStore) CreateJob(ctx context.Context, j *types.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner, model_id, modality, params, state, output, artifact_count, error, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Owner, j.ModelID, string(j.Modality), string(j.Params), string(j.State),
		j.Output, j.ArtifactCount, j.Error, j.CreatedAt.UnixNano(), unixPtr(j.StartedAt), unixPtr(j.FinishedAt),
	)
	if err != nil {
		return unavail("create job", err)
	}
	return nil
}

func (s *sqliteStore) UpdateJob(ctx context.Context, id uuid.UUID, p Patch) error {
	set, args := buildPatch(p, "?")
	if len(set) == 0 {
		return nil
	}
	args = append(args, id.String())
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(set, ", ")+
			` WHERE id = ? AND state NOT IN ('completed','failed','cancelled')`,
		args...,
	)
	if err != nil {
		return unavail("update job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavail("update job", err)
	}
	if n == 0 {
		return s.explainMissedUpdate(ctx, id)
	}
	return nil
}

// explainMissedUpdate tells a missing row apart from a terminal one after a
// guarded UPDATE touched nothing.
func (s *sqliteStore) explainMissedUpdate(ctx context.Context, id uuid.UUID) error {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id.String()).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound(id)
	}
	if err != nil {
		return unavail("update job", err)
	}
	return ErrJobTerminal(id)
}

// buildPatch renders the SET clause for a patch. marker is the driver's
// placeholder ("?" for sqlite); timestamps become unix nanos.
func buildPatch(p Patch, marker string) (set []string, args []any) {
	add := func(col string, v any) {
		set = append(set, col+" = "+marker)
		args = append(args, v)
	}
	if p.State != nil {
		add("state", string(*p.State))
	}
	if p.Output != nil {
		add("output", *p.Output)
	}
	if p.Error != nil {
		add("error", *p.Error)
	}
	if p.StartedAt != nil {
		add("started_at", p.StartedAt.UnixNano())
	}
	if p.FinishedAt != nil {
		add("finished_at", p.FinishedAt.UnixNano())
	}
	return set, args
}

const sqliteJobCols = `id, owner, model_id, modality, params, state, output, artifact_count, error, created_at, started_at, finished_at`

func (s *sqliteStore) GetJob(ctx context.Context, id uuid.UUID) (*types.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobCols+` FROM jobs WHERE id = ?`, id.String())
	j, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound(id)
	}
	if err != nil {
		return nil, unavail("get job", err)
	}
	return j, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSQLiteJob(row rowScanner) (*types.JobRecord, error) {
	var (
		j                     types.JobRecord
		idStr, modality       string
		params, state         string
		createdNS             int64
		startedNS, finishedNS sql.NullInt64
	)
	if err := row.Scan(&idStr, &j.Owner, &j.ModelID, &modality, &params, &state,
		&j.Output, &j.ArtifactCount, &j.Error, &createdNS, &startedNS, &finishedNS); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt job id %q: %w", idStr, err)
	}
	j.ID = id
	j.Modality = types.Modality(modality)
	j.Params = []byte(params)
	j.State = types.JobState(state)
	j.CreatedAt = time.Unix(0, createdNS).UTC()
	j.StartedAt = timePtr(startedNS)
	j.FinishedAt = timePtr(finishedNS)
	return &j, nil
}

func (s *sqliteStore) ListJobs(ctx context.Context, f Filter) ([]*types.JobRecord, error) {
	where, args := buildSQLiteFilter(f)
	q := `SELECT ` + sqliteJobCols + ` FROM jobs` + where + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, f.EffectiveLimit())
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavail("list jobs", err)
	}
	defer rows.Close()
	var out []*types.JobRecord
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, unavail("list jobs", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavail("list jobs", err)
	}
	return out, nil
}

func buildSQLiteFilter(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, f.Owner)
	}
	if f.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(f.State))
	}
	if f.ModelID != "" {
		conds = append(conds, "model_id = ?")
		args = append(args, f.ModelID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.Until.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavail("delete job", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_artifacts WHERE job_id = ?`, id.String()); err != nil {
		return unavail("delete job artifacts", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id.String())
	if err != nil {
		return unavail("delete job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavail("delete job", err)
	}
	if n == 0 {
		return ErrJobNotFound(id)
	}
	if err := tx.Commit(); err != nil {
		return unavail("delete job", err)
	}
	return nil
}

func (s *sqliteStore) PutArtifact(ctx context.Context, a *types.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavail("put artifact", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET artifact_count = artifact_count + 1 WHERE id = ?`, a.JobID.String())
	if err != nil {
		return unavail("put artifact", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return unavail("put artifact", err)
	} else if n == 0 {
		return ErrJobNotFound(a.JobID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_artifacts (id, job_id, seq, mime, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.JobID.String(), a.Seq, a.MIME, a.Data, a.CreatedAt.UnixNano(),
	); err != nil {
		return unavail("put artifact", err)
	}
	if err := tx.Commit(); err != nil {
		return unavail("put artifact", err)
	}
	return nil
}

func (s *sqliteStore) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]*types.Artifact, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, seq, mime, length(data), created_at FROM job_artifacts WHERE job_id = ? ORDER BY seq ASC`,
		jobID.String())
	if err != nil {
		return nil, unavail("list artifacts", err)
	}
	defer rows.Close()
	var out []*types.Artifact
	for rows.Next() {
		a, err := scanSQLiteArtifactMeta(rows)
		if err != nil {
			return nil, unavail("list artifacts", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavail("list artifacts", err)
	}
	return out, nil
}

func scanSQLiteArtifactMeta(row rowScanner) (*types.Artifact, error) {
	var (
		a            types.Artifact
		idStr, jobID string
		createdNS    int64
	)
	if err := row.Scan(&idStr, &jobID, &a.Seq, &a.MIME, &a.SizeBytes, &createdNS); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt artifact id %q: %w", idStr, err)
	}
	jid, err := uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("corrupt artifact job id %q: %w", jobID, err)
	}
	a.ID, a.JobID = id, jid
	a.CreatedAt = time.Unix(0, createdNS).UTC()
	return &a, nil
}

func (s *sqliteStore) GetArtifact(ctx context.Context, jobID uuid.UUID, seq int) (*types.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, seq, mime, data, created_at FROM job_artifacts WHERE job_id = ? AND seq = ?`,
		jobID.String(), seq)
	var (
		a           types.Artifact
		idStr, jStr string
		createdNS   int64
	)
	err := row.Scan(&idStr, &jStr, &a.Seq, &a.MIME, &a.Data, &createdNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArtifactNotFound(jobID, seq)
	}
	if err != nil {
		return nil, unavail("get artifact", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt artifact id %q: %w", idStr, err)
	}
	jid, err := uuid.Parse(jStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt artifact job id %q: %w", jStr, err)
	}
	a.ID, a.JobID = id, jid
	a.SizeBytes = int64(len(a.Data))
	a.CreatedAt = time.Unix(0, createdNS).UTC()
	return &a, nil
}

func (s *sqliteStore) ReconcileInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'failed', error = ?, finished_at = ?
		 WHERE state IN ('queued','running','cancelling')`,
		InterruptedReason, time.Now().UnixNano(),
	)
	if err != nil {
		return 0, unavail("reconcile interrupted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavail("reconcile interrupted", err)
	}
	return int(n), nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
