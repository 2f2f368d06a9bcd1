// Package jobs creates and searches job postings.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

const (
	MaxTitleLen  = 200
	MaxFieldLen  = 200
	DefaultLimit = 10
	MaxLimit     = 100
)

// ValidationError reports a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

// CreatedHook runs after a job is persisted. It must not block; the returned
// job has already been committed regardless of what the hook does.
type CreatedHook func(ctx context.Context, job storage.Job)

type Store interface {
	CreateJob(ctx context.Context, j storage.Job) error
	GetJob(ctx context.Context, id string) (storage.Job, error)
	SearchJobs(ctx context.Context, q storage.JobQuery) ([]storage.Job, int, error)
}

type CreateInput struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Salary      string `json:"salary"`
	JobType     string `json:"jobType"`
	Description string `json:"description"`
	PostedBy    string `json:"-"`
}

type SearchParams struct {
	Text     string
	Location string
	Company  string
	JobType  string
	Page     int
	Limit    int
}

type Page struct {
	Jobs       []storage.Job `json:"jobs"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

type Service struct {
	store Store
	log   logx.Logger
	onNew CreatedHook
	newID func() string
	nowFn func() time.Time
}

func NewService(store Store, log logx.Logger, onNew CreatedHook) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, onNew: onNew, newID: uuid.NewString, nowFn: time.Now}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (storage.Job, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return storage.Job{}, &ValidationError{Field: "title", Reason: "required"}
	}
	if utf8.RuneCountInString(in.Title) > MaxTitleLen {
		return storage.Job{}, &ValidationError{Field: "title", Reason: fmt.Sprintf("at most %d characters", MaxTitleLen)}
	}

	for _, f := range []struct{ name, v string }{
		{"company", in.Company},
		{"location", in.Location},
		{"salary", in.Salary},
		{"jobType", in.JobType},
	} {
		if utf8.RuneCountInString(strings.TrimSpace(f.v)) > MaxFieldLen {
			return storage.Job{}, &ValidationError{Field: f.name, Reason: fmt.Sprintf("at most %d characters", MaxFieldLen)}
		}
	}

	now := s.nowFn().UTC()
	job := storage.Job{
		ID:          s.newID(),
		Title:       in.Title,
		Company:     strings.TrimSpace(in.Company),
		Location:    strings.TrimSpace(in.Location),
		Salary:      strings.TrimSpace(in.Salary),
		JobType:     strings.TrimSpace(in.JobType),
		Description: strings.TrimSpace(in.Description),
		PostedBy:    strings.TrimSpace(in.PostedBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return storage.Job{}, fmt.Errorf("create job: %w", err)
	}
	s.log.Info("job created", logx.String("job_id", job.ID), logx.String("title", job.Title))

	if s.onNew != nil {
		s.onNew(ctx, job)
	}
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (storage.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Job{}, storage.ErrNotFound
	}
	return s.store.GetJob(ctx, id)
}

func (s *Service) Search(ctx context.Context, p SearchParams) (Page, error) {
	page, limit := normalizePaging(p.Page, p.Limit)
	list, total, err := s.store.SearchJobs(ctx, storage.JobQuery{
		Text:     p.Text,
		Location: p.Location,
		Company:  p.Company,
		JobType:  p.JobType,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		return Page{}, err
	}
	if list == nil {
		list = []storage.Job{}
	}
	return Page{
		Jobs:       list,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return page, limit
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
