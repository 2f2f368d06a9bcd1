package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `id, title, company, location, salary, job_type, description, posted_by, created_at, updated_at`

func (s *sqliteStore) CreateJob(ctx context.Context, j Job) error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Title, j.Company, j.Location, j.Salary, j.JobType, j.Description, j.PostedBy,
		j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

func (s *sqliteStore) SearchJobs(ctx context.Context, q JobQuery) ([]Job, int, error) {
	var (
		where []string
		args  []any
	)
	if t := strings.TrimSpace(q.Text); t != "" {
		p := likePattern(t)
		where = append(where, `(title LIKE ? ESCAPE '\' OR company LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	if l := strings.TrimSpace(q.Location); l != "" {
		where = append(where, `location LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(l))
	}
	if c := strings.TrimSpace(q.Company); c != "" {
		where = append(where, `company LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(c))
	}
	if jt := strings.TrimSpace(q.JobType); jt != "" {
		where = append(where, `job_type = ? COLLATE NOCASE`)
		args = append(args, jt)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := max(q.Offset, 0)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("search jobs: %w", err)
	}
	defer rows.Close()

	out := make([]Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, j)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		j                Job
		created, updated int64
	)
	if err := r.Scan(&j.ID, &j.Title, &j.Company, &j.Location, &j.Salary, &j.JobType,
		&j.Description, &j.PostedBy, &created, &updated); err != nil {
		return Job{}, err
	}
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return j, nil
}
