package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"jobboard/pkg/tgui"
)

const (
	stackKey = "stack"

	// runes; Telegram rejects texts over 4096 characters
	telegramTextLimit = 3500
	telegramValueMax  = 600
	telegramStackMax  = 900
	telegramQueueSize = 256
	telegramSendLimit = 10 * time.Second
)

// leadKeys print right after the message, in this order.
var leadKeys = []string{"job_id", "attempts_total", "reason"}

type telegramItem struct {
	chatID   int64
	threadID int
	text     string
}

// telegramSink is a zerolog.LevelWriter that forwards records at or above
// minLevel to one chat through a background worker. Writes never block.
type telegramSink struct {
	sender  TextSender
	queue   chan telegramItem
	dropped atomic.Uint64

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	chatID   int64
	threadID int
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

func newTelegramSink(sender TextSender, threadID int) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan telegramItem, telegramQueueSize),
		threadID: threadID,
		minLevel: zerolog.WarnLevel,
	}
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
}

func (t *telegramSink) hasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID != 0
}

func (t *telegramSink) start() {
	t.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.run(ctx)
		}()
	})
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			if t.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, telegramSendLimit)
			_ = t.sender.SendPlain(sctx, it.chatID, it.threadID, it.text)
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, threadID, lim, minLevel := t.chatID, t.threadID, t.limiter, t.minLevel
	t.mu.Unlock()

	if chatID == 0 || t.sender == nil || lim == nil || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		t.dropped.Add(1)
		return len(p), nil
	}
	text := formatTelegramJSON(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- telegramItem{chatID: chatID, threadID: threadID, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// formatTelegramJSON renders one zerolog JSON line as
//
//	[LEVEL] message
//	- job_id=...
//	- other=...
//
// Non-JSON input is sent trimmed.
func formatTelegramJSON(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), telegramTextLimit)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(m, zerolog.TimestampFieldName)
	delete(m, zerolog.LevelFieldName)
	delete(m, zerolog.MessageFieldName)
	stack, hasStack := m[stackKey]
	delete(m, stackKey)

	for _, k := range orderedKeys(m) {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), telegramValueMax))
	}
	if hasStack {
		b.WriteString("\n- stack=\n")
		b.WriteString(clip(fmt.Sprint(stack), telegramStackMax))
	}
	return clip(b.String(), telegramTextLimit)
}

func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for _, k := range leadKeys {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !slices.Contains(leadKeys, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}

func clip(s string, n int) string { return tgui.TruncRunes(s, n) }
