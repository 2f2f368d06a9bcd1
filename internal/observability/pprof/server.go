// Package pprof runs the optional net/http/pprof debug listener. It is
// reconfigured in place on config reload.
package pprof

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	"jobboard/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// Config controls the debug listener. Binding to a non-loopback address
// requires Token; requests must then send "Authorization: Bearer <Token>".
type Config struct {
	Enabled bool
	Addr    string
	Token   string

	BlockProfileRate     int
	MutexProfileFraction int
}

func (c Config) withDefaults() Config {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	c.Token = strings.TrimSpace(c.Token)
	return c
}

// Validate rejects an exposed listener without a token.
func (c Config) Validate() error {
	c = c.withDefaults()
	if !c.Enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return fmt.Errorf("pprof.addr: %w", err)
	}
	if c.Token == "" && !isLoopback(host) {
		return fmt.Errorf("pprof.token: required when binding %s", c.Addr)
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type Server struct {
	log logx.Logger

	mu   sync.Mutex
	cfg  Config
	srv  *http.Server
	addr string
	done chan struct{}
}

func New(log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log}
}

// Apply starts, stops or restarts the listener to match cfg. Profile rates
// are applied even when the listener is disabled.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && prev.Addr == cfg.Addr && prev.Token == cfg.Token {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("pprof listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           withToken(cfg.Token, mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	s.done = make(chan struct{})

	go func(addr string, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("pprof server error", logx.String("addr", addr), logx.Err(err))
		}
	}(s.addr, s.done)
	s.log.Info("pprof enabled", logx.String("addr", s.addr), logx.Bool("token", cfg.Token != ""))
	return nil
}

// Stop shuts the listener down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, done, addr := s.srv, s.done, s.addr
	s.srv, s.done, s.addr = nil, nil, ""

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("pprof shutdown incomplete", logx.String("addr", addr), logx.Err(err))
		_ = srv.Close()
	}
	<-done
	s.log.Info("pprof disabled", logx.String("addr", addr))
}

// Addr is the bound address, empty when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func withToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
