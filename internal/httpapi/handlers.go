package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"jobboard/internal/jobs"
	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health(r.Context()) {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// GET /api/jobs?q=&location=&company=&type=&page=&limit=
func (s *Server) handleSearchJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), "page")
	if err != nil {
		s.fail(w, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.deps.Jobs.Search(r.Context(), jobs.SearchParams{
		Text:     q.Get("q"),
		Location: q.Get("location"),
		Company:  q.Get("company"),
		JobType:  q.Get("type"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /api/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var in jobs.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, err)
		return
	}
	in.PostedBy = Actor(r.Context())
	job, err := s.deps.Jobs.Create(r.Context(), in)
	s.audit(r, "job.create", job.ID, start, err, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// POST /api/jobs/{id}/broadcast runs a publish synchronously. A job that was
// already posted is reported as skipped; failed jobs are retried.
func (s *Server) handlePublishJob(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	job, err := s.deps.Jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	res := s.deps.Broadcast.PublishNewJob(r.Context(), job)
	s.audit(r, "broadcast.retry", job.ID, start, res.Err, map[string]any{
		"outcome": res.Outcome(),
		"reason":  res.Reason,
	})
	status := http.StatusOK
	if !res.Success && !res.Skipped {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// GET /api/jobs/{id}/broadcast
func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	rec, found, err := s.deps.Broadcast.Delivery(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no delivery record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /api/broadcasts?status=failed&limit=&offset=
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.fail(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		s.fail(w, err)
		return
	}
	st := storage.DeliveryStatus(strings.ToLower(strings.TrimSpace(q.Get("status"))))
	if st != "" && !st.Valid() {
		s.fail(w, &jobs.ValidationError{Field: "status", Reason: "must be pending, posted or failed"})
		return
	}
	list, err := s.deps.Broadcast.Deliveries(r.Context(), storage.DeliveryFilter{Status: st, Limit: limit, Offset: offset})
	if err != nil {
		s.fail(w, err)
		return
	}
	if list == nil {
		list = []storage.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": list})
}

// POST /api/telegram/webhook {"url": "https://..."}
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var in struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, err)
		return
	}
	if s.deps.Webhook == nil {
		writeError(w, http.StatusServiceUnavailable, "telegram gateway not configured")
		return
	}
	err := s.deps.Webhook.RegisterWebhook(r.Context(), in.URL)
	s.audit(r, "telegram.webhook.register", in.URL, start, err, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// audit records an admin action. Failures are logged, never surfaced.
func (s *Server) audit(r *http.Request, action, target string, start time.Time, err error, meta map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:     start,
		Actor:  Actor(r.Context()),
		Action: action,
		Target: target,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(meta) > 0 {
		if b, mErr := json.Marshal(meta); mErr == nil {
			e.MetaJSON = string(b)
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if aErr := s.deps.Audit.AppendAudit(ctx, e); aErr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(aErr))
	}
}

func intParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &jobs.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}
