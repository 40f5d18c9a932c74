package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentscope/api/internal/model"
)

const jobColumns = `id, location_id, platform, kind, status, started_at, completed_at,
properties_found, error_message, retry_count, created_at, updated_at`

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	LocationID string
	Status     model.JobStatus
	Limit      int
}

type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	row := flattenJob(job)
	_, err := r.db.Exec(ctx, `INSERT INTO scrape_jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		row.id, row.locationID, row.platform, row.kind, row.status, row.startedAt, row.completedAt,
		row.propertiesFound, row.errorMessage, row.retryCount, row.createdAt, row.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// JobMutation changes a locked job and reports whether anything changed.
// Returning an error aborts the update.
type JobMutation func(job *model.Job) (bool, error)

// Update loads the job with a row lock, applies fn and writes the result in
// the same transaction. Nothing is written when fn reports no change.
func (r *JobRepository) Update(ctx context.Context, id string, fn JobMutation) (*model.Job, error) {
	var job *model.Job
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFoundError("job not found: " + id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock job %s: %w", id, err)
		}

		changed, err := fn(j)
		if err != nil {
			return err
		}
		job = j
		if !changed {
			return nil
		}

		row := flattenJob(j)
		_, err = tx.Exec(ctx, `UPDATE scrape_jobs SET
status = $2, started_at = $3, completed_at = $4, properties_found = $5,
error_message = $6, retry_count = $7, updated_at = $8
WHERE id = $1`,
			row.id, row.status, row.startedAt, row.completedAt, row.propertiesFound,
			row.errorMessage, row.retryCount, row.updatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError("job not found: " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs newest first.
func (r *JobRepository) List(ctx context.Context, f JobFilter) ([]*model.Job, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.LocationID != "" {
		args = append(args, f.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	q := `SELECT ` + jobColumns + ` FROM scrape_jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	return r.query(ctx, q, args...)
}

// FindTimedOut returns in-progress jobs started before cutoff.
func (r *JobRepository) FindTimedOut(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM scrape_jobs
WHERE status = $1 AND started_at < $2 ORDER BY started_at`,
		string(model.JobStatusInProgress), cutoff)
}

func (r *JobRepository) query(ctx context.Context, q string, args ...interface{}) ([]*model.Job, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	return jobs, nil
}

// jobRow is the flattened column form of a model.Job.
type jobRow struct {
	id, locationID, platform, kind, status string
	startedAt, completedAt                 *time.Time
	propertiesFound                        *int
	errorMessage                           *string
	retryCount                             int
	createdAt, updatedAt                   time.Time
}

func flattenJob(j *model.Job) jobRow {
	return jobRow{
		id:              j.ID,
		locationID:      j.LocationID,
		platform:        string(j.Platform),
		kind:            string(j.Kind),
		status:          string(j.Status()),
		startedAt:       j.StartedAt(),
		completedAt:     j.CompletedAt(),
		propertiesFound: j.PropertiesFound(),
		errorMessage:    j.ErrorMessage(),
		retryCount:      j.RetryCount,
		createdAt:       j.CreatedAt,
		updatedAt:       j.UpdatedAt,
	}
}

func (row jobRow) job() (*model.Job, error) {
	state, err := model.RestoreJobState(model.JobStatus(row.status), row.startedAt, row.completedAt, row.propertiesFound, row.errorMessage)
	if err != nil {
		return nil, fmt.Errorf("corrupt job row %s: %w", row.id, err)
	}
	return &model.Job{
		ID:         row.id,
		LocationID: row.locationID,
		Platform:   model.Platform(row.platform),
		Kind:       model.JobKind(row.kind),
		State:      state,
		RetryCount: row.retryCount,
		CreatedAt:  row.createdAt,
		UpdatedAt:  row.updatedAt,
	}, nil
}

func scanJob(s pgx.Row) (*model.Job, error) {
	var row jobRow
	if err := s.Scan(
		&row.id, &row.locationID, &row.platform, &row.kind, &row.status, &row.startedAt, &row.completedAt,
		&row.propertiesFound, &row.errorMessage, &row.retryCount, &row.createdAt, &row.updatedAt,
	); err != nil {
		return nil, err
	}
	return row.job()
}
