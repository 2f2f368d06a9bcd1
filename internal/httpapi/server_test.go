package httpapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobboard/internal/broadcast"
	"jobboard/internal/gateway/telegram"
	"jobboard/internal/jobs"
	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

const testSecret = "test-jwt-secret"

type fakeJobs struct {
	mu      sync.Mutex
	created []jobs.CreateInput
	byID    map[string]storage.Job
	lastQ   jobs.SearchParams
}

func (f *fakeJobs) Create(_ context.Context, in jobs.CreateInput) (storage.Job, error) {
	if strings.TrimSpace(in.Title) == "" {
		return storage.Job{}, &jobs.ValidationError{Field: "title", Reason: "required"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	j := storage.Job{ID: "J1", Title: in.Title, PostedBy: in.PostedBy}
	f.byID[j.ID] = j
	return j, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (storage.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return storage.Job{}, storage.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) Search(_ context.Context, p jobs.SearchParams) (jobs.Page, error) {
	f.mu.Lock()
	f.lastQ = p
	f.mu.Unlock()
	return jobs.Page{Jobs: []storage.Job{}, Page: 1, Limit: 10}, nil
}

type fakeBroadcast struct {
	result broadcast.PublishResult
	recs   map[string]storage.DeliveryRecord
	filter storage.DeliveryFilter
}

func (f *fakeBroadcast) PublishNewJob(_ context.Context, job storage.Job) broadcast.PublishResult {
	r := f.result
	r.JobID = job.ID
	return r
}

func (f *fakeBroadcast) Delivery(_ context.Context, id string) (storage.DeliveryRecord, bool, error) {
	r, ok := f.recs[id]
	return r, ok, nil
}

func (f *fakeBroadcast) Deliveries(_ context.Context, flt storage.DeliveryFilter) ([]storage.DeliveryRecord, error) {
	f.filter = flt
	out := []storage.DeliveryRecord{}
	for _, r := range f.recs {
		if flt.Status == "" || r.Status == flt.Status {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeWebhook struct{ url string }

func (f *fakeWebhook) RegisterWebhook(_ context.Context, url string) error {
	if !strings.HasPrefix(url, "https://") {
		return &telegram.ValidationError{Field: "webhook_url", Reason: "must be an https URL"}
	}
	f.url = url
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (f *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	srv   *Server
	jobs  *fakeJobs
	bc    *fakeBroadcast
	hook  *fakeWebhook
	audit *fakeAudit
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	f := &fixture{
		jobs:  &fakeJobs{byID: map[string]storage.Job{}},
		bc:    &fakeBroadcast{recs: map[string]storage.DeliveryRecord{}},
		hook:  &fakeWebhook{},
		audit: &fakeAudit{},
	}
	f.srv = New(cfg, Deps{
		Jobs:      f.jobs,
		Broadcast: f.bc,
		Webhook:   f.hook,
		Audit:     f.audit,
		Health: func(context.Context) map[string]any {
			return map[string]any{"telegram_enabled": true}
		},
	}, logx.Nop())
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func adminHeader(t *testing.T) map[string]string {
	t.Helper()
	tok, err := IssueAdminToken(testSecret, "ops@example.com", time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["telegram_enabled"])
}

func TestCreateJobRequiresAdmin(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/api/jobs", `{"title":"Baker"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs", `{"title":"Baker"}`, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := IssueAdminToken("other-secret", "x", time.Hour)
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/jobs", `{"title":"Baker"}`, map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs", `{"title":"Baker"}`, adminHeader(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "J1", decode(t, rec)["id"])
	require.Len(t, f.jobs.created, 1)
	assert.Equal(t, "ops@example.com", f.jobs.created[0].PostedBy)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "job.create", f.audit.entries[0].Action)
	assert.True(t, f.audit.entries[0].OK)
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodPost, "/api/jobs", `{"title":""}`, adminHeader(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs", `{"title":"x","bogus":1}`, adminHeader(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllowUnauthenticatedAdmin(t *testing.T) {
	f := newFixture(t, Config{AllowUnauthenticatedAdmin: true})
	rec := f.do(t, http.MethodPost, "/api/jobs", `{"title":"Baker"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, anonymousAdmin, f.jobs.created[0].PostedBy)
}

func TestSearchAndGetJobs(t *testing.T) {
	f := newFixture(t, Config{})
	f.jobs.byID["J9"] = storage.Job{ID: "J9", Title: "Dev"}

	rec := f.do(t, http.MethodGet, "/api/jobs?q=dev&location=berlin&type=contract&page=2&limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.SearchParams{Text: "dev", Location: "berlin", JobType: "contract", Page: 2, Limit: 5}, f.jobs.lastQ)

	rec = f.do(t, http.MethodGet, "/api/jobs?page=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs/J9", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dev", decode(t, rec)["title"])

	rec = f.do(t, http.MethodGet, "/api/jobs/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualBroadcast(t *testing.T) {
	f := newFixture(t, Config{})
	f.jobs.byID["J1"] = storage.Job{ID: "J1", Title: "Baker"}

	f.bc.result = broadcast.PublishResult{Success: true, ApplyURL: "https://site.example/jobs/J1", ExternalMessageID: "M100"}
	rec := f.do(t, http.MethodPost, "/api/jobs/J1/broadcast", "", adminHeader(t))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "M100", body["externalMessageId"])

	f.bc.result = broadcast.PublishResult{Error: "Bad Gateway"}
	rec = f.do(t, http.MethodPost, "/api/jobs/J1/broadcast", "", adminHeader(t))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs/missing/broadcast", "", adminHeader(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeliveryEndpoints(t *testing.T) {
	f := newFixture(t, Config{})
	f.bc.recs["J1"] = storage.DeliveryRecord{JobID: "J1", Status: storage.DeliveryFailed, Attempts: 3, LastError: "boom"}
	f.bc.recs["J2"] = storage.DeliveryRecord{JobID: "J2", Status: storage.DeliveryPosted, Attempts: 1}

	rec := f.do(t, http.MethodGet, "/api/jobs/J1/broadcast", "", adminHeader(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/jobs/J3/broadcast", "", adminHeader(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/broadcasts?status=failed", "", adminHeader(t))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["deliveries"].([]any)
	assert.Len(t, list, 1)
	assert.Equal(t, storage.DeliveryFailed, f.bc.filter.Status)

	rec = f.do(t, http.MethodGet, "/api/broadcasts?status=weird", "", adminHeader(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/broadcasts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterWebhookEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodPost, "/api/telegram/webhook", `{"url":"https://site.example/telegram/webhook"}`, adminHeader(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://site.example/telegram/webhook", f.hook.url)

	rec = f.do(t, http.MethodPost, "/api/telegram/webhook", `{"url":"http://insecure.example"}`, adminHeader(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookReceiver(t *testing.T) {
	update := `{"update_id": 42, "channel_post": {"message_id": 1, "date": 0, "chat": {"id": -1001, "type": "channel"}}}`

	t.Run("production rejects plain http", func(t *testing.T) {
		f := newFixture(t, Config{Production: true})
		rec := f.do(t, http.MethodPost, "/telegram/webhook", update, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = f.do(t, http.MethodPost, "/telegram/webhook", update, map[string]string{"X-Forwarded-Proto": "https"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("production accepts tls", func(t *testing.T) {
		f := newFixture(t, Config{Production: true})
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(update))
		req.TLS = &tls.ConnectionState{}
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("secret mismatch", func(t *testing.T) {
		f := newFixture(t, Config{WebhookSecret: "s3cret"})
		rec := f.do(t, http.MethodPost, "/telegram/webhook", update, map[string]string{secretHeader: "wrong"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = f.do(t, http.MethodPost, "/telegram/webhook", update, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = f.do(t, http.MethodPost, "/telegram/webhook", update, map[string]string{secretHeader: "s3cret"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("garbage still 200", func(t *testing.T) {
		f := newFixture(t, Config{})
		rec := f.do(t, http.MethodPost, "/telegram/webhook", "{not json", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, Config{ShutdownTimeout: time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestParseAdminTokenRejectsNonAdmin(t *testing.T) {
	_, err := parseAdminToken(testSecret, "")
	require.Error(t, err)
}
