package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"gend/pkg/types"
)

// postgresStore keeps jobs in postgres through a pgx pool. Meant for
// deployments where the job history outlives the host running the daemon.
type postgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenPostgres connects, pings and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavail("create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavail("ping database", err)
	}
	s := &postgresStore{pool: pool, log: log}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Msg("postgres job store ready")
	return s, nil
}

func (s *postgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		owner TEXT NOT NULL,
		model_id TEXT NOT NULL,
		modality TEXT NOT NULL CHECK (modality IN ('text','image')),
		params JSONB NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('queued','running','cancelling','completed','failed','cancelled')),
		output TEXT NOT NULL DEFAULT '',
		artifact_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	CREATE TABLE IF NOT EXISTS job_artifacts (
		id UUID PRIMARY KEY,
		job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		mime TEXT NOT NULL,
		data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (job_id, seq)
	);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return unavail("init postgres schema", err)
	}
	return nil
}

func (s *postgresStore) CreateJob(ctx context.Context, j *types.JobRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner, model_id, modality, params, state, output, artifact_count, error, created_at, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuidToPg(j.ID), j.Owner, j.ModelID, string(j.Modality), []byte(j.Params), string(j.State),
		j.Output, j.ArtifactCount, j.Error, j.CreatedAt, timePtrToPg(j.StartedAt), timePtrToPg(j.FinishedAt),
	)
	if err != nil {
		return unavail("create job", err)
	}
	return nil
}

func (s *postgresStore) UpdateJob(ctx context.Context, id uuid.UUID, p Patch) error {
	set, args := buildPgPatch(p)
	if len(set) == 0 {
		return nil
	}
	args = append(args, uuidToPg(id))
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET `+strings.Join(set, ", ")+
			fmt.Sprintf(` WHERE id = $%d AND state NOT IN ('completed','failed','cancelled')`, len(args)),
		args...,
	)
	if err != nil {
		return unavail("update job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissedUpdate(ctx, id)
	}
	return nil
}

func (s *postgresStore) explainMissedUpdate(ctx context.Context, id uuid.UUID) error {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM jobs WHERE id = $1`, uuidToPg(id)).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJobNotFound(id)
	}
	if err != nil {
		return unavail("update job", err)
	}
	return ErrJobTerminal(id)
}

func buildPgPatch(p Patch) (set []string, args []any) {
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
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
		add("started_at", *p.StartedAt)
	}
	if p.FinishedAt != nil {
		add("finished_at", *p.FinishedAt)
	}
	return set, args
}

const pgJobCols = `id, owner, model_id, modality, params, state, output, artifact_count, error, created_at, started_at, finished_at`

func (s *postgresStore) GetJob(ctx context.Context, id uuid.UUID) (*types.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobCols+` FROM jobs WHERE id = $1`, uuidToPg(id))
	j, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound(id)
	}
	if err != nil {
		return nil, unavail("get job", err)
	}
	return j, nil
}

func scanPgJob(row pgx.Row) (*types.JobRecord, error) {
	var j types.JobRecord
	var id pgtype.UUID
	var modality, state string
	var params []byte
	var started, finished pgtype.Timestamptz
	if err := row.Scan(&id, &j.Owner, &j.ModelID, &modality, &params, &state,
		&j.Output, &j.ArtifactCount, &j.Error, &j.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	j.ID = pgToUUID(id)
	j.Modality = types.Modality(modality)
	j.Params = params
	j.State = types.JobState(state)
	j.CreatedAt = j.CreatedAt.UTC()
	j.StartedAt = pgToTimePtr(started)
	j.FinishedAt = pgToTimePtr(finished)
	return &j, nil
}

func (s *postgresStore) ListJobs(ctx context.Context, f Filter) ([]*types.JobRecord, error) {
	where, args := buildPgFilter(f)
	args = append(args, f.EffectiveLimit())
	q := `SELECT ` + pgJobCols + ` FROM jobs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavail("list jobs", err)
	}
	defer rows.Close()
	var out []*types.JobRecord
	for rows.Next() {
		j, err := scanPgJob(rows)
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

func buildPgFilter(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if f.Owner != "" {
		add("owner = $%d", f.Owner)
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if f.ModelID != "" {
		add("model_id = $%d", f.ModelID)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at <= $%d", f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *postgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, uuidToPg(id))
	if err != nil {
		return unavail("delete job", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound(id)
	}
	return nil
}

func (s *postgresStore) PutArtifact(ctx context.Context, a *types.Artifact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavail("put artifact", err)
	}
	defer tx.Rollback(ctx)
	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET artifact_count = artifact_count + 1 WHERE id = $1`, uuidToPg(a.JobID))
	if err != nil {
		return unavail("put artifact", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound(a.JobID)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO job_artifacts (id, job_id, seq, mime, data, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuidToPg(a.ID), uuidToPg(a.JobID), a.Seq, a.MIME, a.Data, a.CreatedAt,
	); err != nil {
		return unavail("put artifact", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavail("put artifact", err)
	}
	return nil
}

func (s *postgresStore) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]*types.Artifact, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, seq, mime, octet_length(data), created_at FROM job_artifacts WHERE job_id = $1 ORDER BY seq ASC`,
		uuidToPg(jobID))
	if err != nil {
		return nil, unavail("list artifacts", err)
	}
	defer rows.Close()
	var out []*types.Artifact
	for rows.Next() {
		var (
			a      types.Artifact
			id, jd pgtype.UUID
		)
		if err := rows.Scan(&id, &jd, &a.Seq, &a.MIME, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, unavail("list artifacts", err)
		}
		a.ID, a.JobID = pgToUUID(id), pgToUUID(jd)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavail("list artifacts", err)
	}
	return out, nil
}

func (s *postgresStore) GetArtifact(ctx context.Context, jobID uuid.UUID, seq int) (*types.Artifact, error) {
	var (
		a      types.Artifact
		id, jd pgtype.UUID
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, seq, mime, data, created_at FROM job_artifacts WHERE job_id = $1 AND seq = $2`,
		uuidToPg(jobID), seq,
	).Scan(&id, &jd, &a.Seq, &a.MIME, &a.Data, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound(jobID, seq)
	}
	if err != nil {
		return nil, unavail("get artifact", err)
	}
	a.ID, a.JobID = pgToUUID(id), pgToUUID(jd)
	a.SizeBytes = int64(len(a.Data))
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *postgresStore) ReconcileInterrupted(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = 'failed', error = $1, finished_at = $2
		 WHERE state IN ('queued','running','cancelling')`,
		InterruptedReason, time.Now().UTC(),
	)
	if err != nil {
		return 0, unavail("reconcile interrupted", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgtype conversions; pgx scans UUID and TIMESTAMPTZ columns into these
// wrappers without extra codecs.

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

func timePtrToPg(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func pgToTimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
