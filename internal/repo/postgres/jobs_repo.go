// Package postgres holds the pgx-backed adapters used in production.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/jobs"
	"github.com/mapfederate/procgate/internal/observability"
)

// ErrVersionConflict surfaces a lost optimistic-concurrency race on
// append_status; callers reload and retry or give up.
var ErrVersionConflict = errors.New("job version conflict")

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

const jobColumns = `id, process_id, provider, remote_job_id, remote_status_url,
	status, status_info, inputs, inputs_url, inputs_storage, inputs_size,
	inputs_checksum, results, created, updated, diagnostic, version, user_id, hash`

func scanJob(row pgx.Row) (job.Job, error) {
	var (
		j          job.Job
		status     string
		storage    string
		statusInfo []byte
		inputs     []byte
		results    []byte
	)

	err := row.Scan(
		&j.ID, &j.ProcessID, &j.Provider, &j.RemoteJobID, &j.RemoteStatusURL,
		&status, &statusInfo, &inputs, &j.InputsURL, &storage, &j.InputsSize,
		&j.InputsChecksum, &results, &j.Created, &j.Updated, &j.Diagnostic,
		&j.Version, &j.UserID, &j.Hash,
	)

	if err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	j.InputsStorage = job.InputsStorage(storage)

	if len(statusInfo) > 0 {
		var si job.StatusInfo

		if err := json.Unmarshal(statusInfo, &si); err != nil {
			return job.Job{}, fmt.Errorf("decode status_info: %w", err)
		}
		j.StatusInfo = &si
	}

	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &j.Inputs); err != nil {
			return job.Job{}, fmt.Errorf("decode inputs: %w", err)
		}
	}

	if len(results) > 0 {
		if err := json.Unmarshal(results, &j.Results); err != nil {
			return job.Job{}, fmt.Errorf("decode results: %w", err)
		}
	}

	return j, nil
}

func jobArgs(j job.Job) ([]any, error) {
	var (
		statusInfo []byte
		inputs     []byte
		results    []byte
		err        error
	)

	if j.StatusInfo != nil {
		statusInfo, err = json.Marshal(j.StatusInfo)

		if err != nil {
			return nil, fmt.Errorf("encode status_info: %w", err)
		}
	}

	if j.Inputs != nil {
		inputs, err = json.Marshal(j.Inputs)

		if err != nil {
			return nil, fmt.Errorf("encode inputs: %w", err)
		}
	}

	if j.Results != nil {
		results, err = json.Marshal(j.Results)

		if err != nil {
			return nil, fmt.Errorf("encode results: %w", err)
		}
	}

	return []any{
		j.ID, j.ProcessID, j.Provider, j.RemoteJobID, j.RemoteStatusURL,
		string(j.Status), statusInfo, inputs, j.InputsURL, string(j.InputsStorage),
		j.InputsSize, j.InputsChecksum, results, j.Created, j.Updated,
		j.Diagnostic, j.Version, j.UserID, j.Hash,
	}, nil
}

func (r *JobsRepo) Create(ctx context.Context, j job.Job) (job.Job, error) {
	op := "jobs.create"

	args, err := jobArgs(j)

	if err != nil {
		return job.Job{}, err
	}

	err = r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `INSERT INTO jobs(`+jobColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`, args...)
		return execErr
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return job.Job{}, job.ErrJobExists
		}
		return job.Job{}, err
	}

	return j, nil
}

func (r *JobsRepo) Get(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	var err error
	op := "jobs.get"

	err = r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

		var scanErr error
		j, scanErr = scanJob(row)
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}

	return j, nil
}

func (r *JobsRepo) Update(ctx context.Context, j job.Job) (job.Job, error) {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.update"

	j.Updated = time.Now().UTC()

	err = r.observe(op, func() error {
		// status, status_info and version move only through AppendStatus
		tag, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET remote_job_id = $2,
			    remote_status_url = $3,
			    inputs_url = $4,
			    results = $5,
			    diagnostic = $6,
			    updated = $7
			WHERE id = $1
		`, j.ID, j.RemoteJobID, j.RemoteStatusURL, j.InputsURL, encodeOrNil(j.Results), j.Diagnostic, j.Updated)
		return err
	})

	if err != nil {
		return job.Job{}, err
	}

	if tag.RowsAffected() == 0 {
		return job.Job{}, job.ErrJobNotFound
	}

	return r.Get(ctx, j.ID)
}

func encodeOrNil(m map[string]any) []byte {
	if m == nil {
		return nil
	}

	raw, err := json.Marshal(m)

	if err != nil {
		return nil
	}

	return raw
}

// AppendStatus applies the snapshot through the domain state machine
// inside one transaction: job row update guarded by the version
// column, plus the history insert.
func (r *JobsRepo) AppendStatus(ctx context.Context, id string, si *job.StatusInfo) (job.Job, error) {
	var out job.Job
	op := "jobs.append_status"

	err := r.observe(op, func() error {
		tx, txErr := r.pool.Begin(ctx)

		if txErr != nil {
			return txErr
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)

		j, scanErr := scanJob(row)

		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return job.ErrJobNotFound
			}
			return scanErr
		}

		prevVersion := j.Version
		applied := si.Clone()

		if applyErr := j.ApplyStatusInfo(applied); applyErr != nil {
			return applyErr
		}

		siRaw, encErr := json.Marshal(applied)

		if encErr != nil {
			return encErr
		}

		tag, execErr := tx.Exec(ctx, `
			UPDATE jobs
			SET status = $2,
			    status_info = $3,
			    updated = $4,
			    version = $5
			WHERE id = $1 AND version = $6
		`, id, string(j.Status), siRaw, j.Updated, j.Version, prevVersion)

		if execErr != nil {
			return execErr
		}

		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}

		_, execErr = tx.Exec(ctx, `
			INSERT INTO job_status_history(job_id, status_info, created)
			VALUES ($1, $2, NOW())
		`, id, siRaw)

		if execErr != nil {
			return execErr
		}

		if commitErr := tx.Commit(ctx); commitErr != nil {
			return commitErr
		}

		out = j
		si.JobID = applied.JobID
		if si.Type == "" {
			si.Type = applied.Type
		}
		return nil
	})

	if err != nil {
		return job.Job{}, err
	}

	return out, nil
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id, reason, diagnostic string) (job.Job, error) {
	if diagnostic != "" {
		err := r.observe("jobs.mark_failed.diagnostic", func() error {
			_, execErr := r.pool.Exec(ctx, `UPDATE jobs SET diagnostic = $2 WHERE id = $1`, id, diagnostic)
			return execErr
		})

		if err != nil {
			return job.Job{}, err
		}
	}

	now := time.Now().UTC()
	fsi := &job.StatusInfo{
		JobID:    id,
		Status:   job.StatusFailed,
		Type:     "process",
		Message:  reason,
		Finished: &now,
		Updated:  &now,
		Links: []job.Link{
			{Href: "/jobs/" + id, Rel: "self", Type: "application/json"},
		},
	}

	return r.AppendStatus(ctx, id, fsi)
}

func (r *JobsRepo) AppendEvent(ctx context.Context, id string, ev job.Event) {
	op := "jobs.append_event"

	payload, err := json.Marshal(ev.Payload)

	if err != nil {
		payload = []byte("{}")
	}

	// best effort by contract
	_ = r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO job_events(job_id, kind, payload, ts)
			VALUES ($1, $2, $3, $4)
		`, id, ev.Kind, payload, ev.Timestamp)
		return execErr
	})
}

func (r *JobsRepo) History(ctx context.Context, id string) ([]job.StatusInfo, error) {
	var out []job.StatusInfo
	op := "jobs.history"

	err := r.observe(op, func() error {
		rows, qErr := r.pool.Query(ctx, `
			SELECT status_info
			FROM job_status_history
			WHERE job_id = $1
			ORDER BY id ASC
		`, id)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var raw []byte

			if scanErr := rows.Scan(&raw); scanErr != nil {
				return scanErr
			}

			var si job.StatusInfo

			if decErr := json.Unmarshal(raw, &si); decErr != nil {
				return decErr
			}

			out = append(out, si)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *JobsRepo) Events(ctx context.Context, id string) ([]job.Event, error) {
	var out []job.Event
	op := "jobs.events"

	err := r.observe(op, func() error {
		rows, qErr := r.pool.Query(ctx, `
			SELECT kind, payload, ts
			FROM job_events
			WHERE job_id = $1
			ORDER BY id ASC
		`, id)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var ev job.Event
			var payload []byte

			if scanErr := rows.Scan(&ev.Kind, &payload, &ev.Timestamp); scanErr != nil {
				return scanErr
			}

			if len(payload) > 0 {
				if decErr := json.Unmarshal(payload, &ev.Payload); decErr != nil {
					return decErr
				}
			}

			out = append(out, ev)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *JobsRepo) List(ctx context.Context, f jobs.ListFilter) ([]job.Job, int, error) {
	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	addCond := func(cond string, val any) {
		conds = append(conds, fmt.Sprintf(cond, argsPos))
		args = append(args, val)
		argsPos++
	}

	if f.Provider != "" {
		addCond("provider = $%d", f.Provider)
	}
	if f.ProcessID != "" {
		addCond("process_id = $%d", f.ProcessID)
	}
	if f.Status != "" {
		addCond("status = $%d", string(f.Status))
	}
	if f.UserID != "" {
		conds = append(conds, fmt.Sprintf(`(user_id = '' OR user_id = $%d
			OR id IN (SELECT job_id FROM jobs_users WHERE user_id = $%d))`, argsPos, argsPos))
		args = append(args, f.UserID)
		argsPos++
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int

	err := r.observe("jobs.list.count", func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total)
	})

	if err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created DESC, id DESC`

	if f.Limit > 0 {
		page := f.Page
		if page <= 0 {
			page = 1
		}

		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argsPos, argsPos+1)
		args = append(args, f.Limit, (page-1)*f.Limit)
	}

	var out []job.Job

	err = r.observe("jobs.list", func() error {
		rows, qErr := r.pool.Query(ctx, q, args...)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			j, scanErr := scanJob(rows)

			if scanErr != nil {
				return scanErr
			}

			out = append(out, j)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

func (r *JobsRepo) FindSuccessfulByHash(ctx context.Context, hash, userID string) (job.Job, bool, error) {
	var j job.Job
	op := "jobs.find_by_hash"

	err := r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE hash = $1 AND user_id = $2 AND status = 'successful'
			ORDER BY created DESC
			LIMIT 1
		`, hash, userID)

		var scanErr error
		j, scanErr = scanJob(row)
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, false, nil
		}
		return job.Job{}, false, err
	}

	return j, true, nil
}

func (r *JobsRepo) AddComment(ctx context.Context, c jobs.Comment) (jobs.Comment, error) {
	op := "jobs.add_comment"

	err := r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO job_comments(id, job_id, user_id, body, created)
			VALUES ($1, $2, $3, $4, $5)
		`, c.ID, c.JobID, c.UserID, c.Body, c.Created)
		return execErr
	})

	if err != nil {
		return jobs.Comment{}, err
	}

	return c, nil
}

func (r *JobsRepo) ListComments(ctx context.Context, jobID string) ([]jobs.Comment, error) {
	var out []jobs.Comment
	op := "jobs.list_comments"

	err := r.observe(op, func() error {
		rows, qErr := r.pool.Query(ctx, `
			SELECT id, job_id, user_id, body, created
			FROM job_comments
			WHERE job_id = $1
			ORDER BY created ASC
		`, jobID)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var c jobs.Comment

			if scanErr := rows.Scan(&c.ID, &c.JobID, &c.UserID, &c.Body, &c.Created); scanErr != nil {
				return scanErr
			}

			out = append(out, c)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *JobsRepo) ShareJob(ctx context.Context, jobID, userID string) error {
	op := "jobs.share"

	return r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO jobs_users(job_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, jobID, userID)
		return execErr
	})
}

func (r *JobsRepo) SharedWith(ctx context.Context, jobID string) ([]string, error) {
	var out []string
	op := "jobs.shared_with"

	err := r.observe(op, func() error {
		rows, qErr := r.pool.Query(ctx, `
			SELECT user_id FROM jobs_users WHERE job_id = $1 ORDER BY user_id
		`, jobID)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var u string

			if scanErr := rows.Scan(&u); scanErr != nil {
				return scanErr
			}

			out = append(out, u)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *JobsRepo) IsVisible(ctx context.Context, j job.Job, userID string) (bool, error) {
	if j.UserID == "" || j.UserID == userID {
		return true, nil
	}

	var shared bool
	op := "jobs.is_visible"

	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM jobs_users WHERE job_id = $1 AND user_id = $2)
		`, j.ID, userID).Scan(&shared)
	})

	if err != nil {
		return false, err
	}

	return shared, nil
}

func (r *JobsRepo) CreateEnsemble(ctx context.Context, e jobs.Ensemble) (jobs.Ensemble, error) {
	op := "ensembles.create"

	err := r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO ensembles(id, name, description, user_id, created)
			VALUES ($1, $2, $3, $4, $5)
		`, e.ID, e.Name, e.Description, e.UserID, e.Created)
		return execErr
	})

	if err != nil {
		return jobs.Ensemble{}, err
	}

	return e, nil
}

func (r *JobsRepo) GetEnsemble(ctx context.Context, id string) (jobs.Ensemble, error) {
	var e jobs.Ensemble
	op := "ensembles.get"

	err := r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `
			SELECT id, name, description, user_id, created
			FROM ensembles
			WHERE id = $1
		`, id)

		return row.Scan(&e.ID, &e.Name, &e.Description, &e.UserID, &e.Created)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.Ensemble{}, job.ErrJobNotFound
		}
		return jobs.Ensemble{}, err
	}

	jobIDs, err := r.ensembleJobIDs(ctx, id)

	if err != nil {
		return jobs.Ensemble{}, err
	}

	e.JobIDs = jobIDs
	return e, nil
}

func (r *JobsRepo) ensembleJobIDs(ctx context.Context, ensembleID string) ([]string, error) {
	var out []string

	err := r.observe("ensembles.job_ids", func() error {
		rows, qErr := r.pool.Query(ctx, `
			SELECT job_id FROM ensembles_jobs WHERE ensemble_id = $1 ORDER BY job_id
		`, ensembleID)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var id string

			if scanErr := rows.Scan(&id); scanErr != nil {
				return scanErr
			}

			out = append(out, id)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *JobsRepo) ListEnsembles(ctx context.Context, userID string) ([]jobs.Ensemble, error) {
	var out []jobs.Ensemble
	op := "ensembles.list"

	err := r.observe(op, func() error {
		rows, qErr := r.pool.Query(ctx, `
			SELECT id, name, description, user_id, created
			FROM ensembles
			WHERE $1 = '' OR user_id = '' OR user_id = $1
			ORDER BY created DESC
		`, userID)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var e jobs.Ensemble

			if scanErr := rows.Scan(&e.ID, &e.Name, &e.Description, &e.UserID, &e.Created); scanErr != nil {
				return scanErr
			}

			out = append(out, e)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	for i := range out {
		jobIDs, idsErr := r.ensembleJobIDs(ctx, out[i].ID)

		if idsErr != nil {
			return nil, idsErr
		}

		out[i].JobIDs = jobIDs
	}

	return out, nil
}

func (r *JobsRepo) AddJobToEnsemble(ctx context.Context, ensembleID, jobID string) error {
	op := "ensembles.add_job"

	return r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO ensembles_jobs(ensemble_id, job_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ensembleID, jobID)
		return execErr
	})
}
