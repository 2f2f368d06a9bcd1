package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	"jobboard/pkg/logx"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverPanics, s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/telegram/webhook", s.handleTelegramWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", s.handleSearchJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)

	api.Handle("/jobs", s.requireAdmin(s.handleCreateJob)).Methods(http.MethodPost)
	api.Handle("/jobs/{id}/broadcast", s.requireAdmin(s.handlePublishJob)).Methods(http.MethodPost)
	api.Handle("/jobs/{id}/broadcast", s.requireAdmin(s.handleGetDelivery)).Methods(http.MethodGet)
	api.Handle("/broadcasts", s.requireAdmin(s.handleListDeliveries)).Methods(http.MethodGet)
	api.Handle("/telegram/webhook", s.requireAdmin(s.handleRegisterWebhook)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("http handler panicked",
					logx.String("path", r.URL.Path),
					logx.Any("panic", p),
					logx.Stack(string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
