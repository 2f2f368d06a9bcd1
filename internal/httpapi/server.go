// Package httpapi exposes jobs, broadcast operations and the Telegram webhook
// receiver over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"jobboard/internal/broadcast"
	"jobboard/internal/jobs"
	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

type Config struct {
	Addr       string
	Production bool

	JWTSecret                 string
	AllowUnauthenticatedAdmin bool
	// WebhookSecret is compared with X-Telegram-Bot-Api-Secret-Token when set.
	WebhookSecret string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type JobService interface {
	Create(ctx context.Context, in jobs.CreateInput) (storage.Job, error)
	Get(ctx context.Context, id string) (storage.Job, error)
	Search(ctx context.Context, p jobs.SearchParams) (jobs.Page, error)
}

type Broadcaster interface {
	PublishNewJob(ctx context.Context, job storage.Job) broadcast.PublishResult
	Delivery(ctx context.Context, jobID string) (storage.DeliveryRecord, bool, error)
	Deliveries(ctx context.Context, f storage.DeliveryFilter) ([]storage.DeliveryRecord, error)
}

type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, url string) error
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Deps are the collaborators behind the routes. Audit and Health are optional.
type Deps struct {
	Jobs      JobService
	Broadcast Broadcaster
	Webhook   WebhookRegistrar
	Audit     Auditor
	Health    func(ctx context.Context) map[string]any
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router *mux.Router
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps, log: log}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("production", s.cfg.Production),
		logx.Bool("admin_auth", !s.cfg.AllowUnauthenticatedAdmin),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	s.log.Info("http server stopped")
	return nil
}
