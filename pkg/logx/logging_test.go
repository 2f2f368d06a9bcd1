package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	ch   chan struct{}
}

func (r *recordingSender) SendPlain(_ context.Context, chatID int64, threadID int, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	select {
	case r.ch <- struct{}{}:
	default:
	}
	return nil
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatal("derived logger should carry fields")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	msg := formatTelegramJSON([]byte(`{"level":"warn","message":"delivery failed","job_id":"J1","time":"x"}`))
	if !strings.HasPrefix(msg, "[WARN] delivery failed") {
		t.Fatalf("unexpected prefix: %q", msg)
	}
	if !strings.Contains(msg, "- job_id=J1") {
		t.Fatalf("expected job_id field, got %q", msg)
	}
	if strings.Contains(msg, "time=") {
		t.Fatalf("time should be omitted: %q", msg)
	}
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	snd := &recordingSender{ch: make(chan struct{}, 4)}
	svc, log := New(Config{Level: "debug", Console: false}, snd)
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetTelegramTarget(-100123, 0)
	svc.Apply(Config{
		Level:    "debug",
		Console:  false,
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})

	log.Info("not forwarded")
	log.Warn("forwarded", String("job_id", "J1"))

	select {
	case <-snd.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("telegram sink did not deliver")
	}

	snd.mu.Lock()
	defer snd.mu.Unlock()
	if len(snd.msgs) != 1 {
		t.Fatalf("expected 1 forwarded message, got %d: %v", len(snd.msgs), snd.msgs)
	}
	if !strings.Contains(snd.msgs[0], "forwarded") {
		t.Fatalf("unexpected message: %q", snd.msgs[0])
	}
}

func TestFormatTelegramJSONOrdersKeys(t *testing.T) {
	msg := formatTelegramJSON([]byte(`{"level":"error","message":"x","zeta":1,"alpha":"a","job_id":"J2","stack":"goroutine 1"}`))
	want := "[ERROR] x\n- job_id=J2\n- alpha=a\n- zeta=1\n- stack=\ngoroutine 1"
	if msg != want {
		t.Fatalf("got %q, want %q", msg, want)
	}
}

func TestTelegramSinkCountsRateLimitedDrops(t *testing.T) {
	snd := &recordingSender{ch: make(chan struct{}, 4)}
	svc, log := New(Config{Level: "info"}, snd)
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetTelegramTarget(-100123, 0)
	svc.Apply(Config{
		Level:    "info",
		Telegram: TelegramConfig{Enabled: true, RatePerSec: 1},
	})

	for i := 0; i < 3; i++ {
		log.Warn("delivery failed")
	}
	if got := svc.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
}
