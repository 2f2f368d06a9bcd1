package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"jobboard/internal/eventbus"
	"jobboard/internal/gateway/telegram"
	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

type fakeGateway struct {
	enabled bool
	calls   atomic.Int32
	hold    time.Duration

	mu       sync.Mutex
	urls     []string
	outcomes []func() (telegram.DeliveryOutcome, error)
}

func (g *fakeGateway) IsEnabled() bool { return g.enabled }

func (g *fakeGateway) Send(ctx context.Context, _ telegram.JobSummary, applyURL string) (telegram.DeliveryOutcome, error) {
	n := int(g.calls.Add(1))
	if g.hold > 0 {
		select {
		case <-time.After(g.hold):
		case <-ctx.Done():
			return telegram.DeliveryOutcome{}, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.urls = append(g.urls, applyURL)
	if n <= len(g.outcomes) {
		return g.outcomes[n-1]()
	}
	return telegram.DeliveryOutcome{Attempt: 1, MessageID: "M100"}, nil
}

func succeed(attempt int, id string) func() (telegram.DeliveryOutcome, error) {
	return func() (telegram.DeliveryOutcome, error) {
		return telegram.DeliveryOutcome{Attempt: attempt, MessageID: id}, nil
	}
}

func exhaust(reason string) func() (telegram.DeliveryOutcome, error) {
	return func() (telegram.DeliveryOutcome, error) {
		return telegram.DeliveryOutcome{}, &telegram.DeliveryFailedError{
			Attempts: telegram.MaxAttempts,
			Reason:   reason,
			Err:      errors.New(reason),
		}
	}
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "b.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var baseCfg = Config{PublicBaseURL: "https://site.example"}

func TestPublishScenarioPostedOnceThenSkipped(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gw := &fakeGateway{enabled: true}
	svc := New(baseCfg, st, gw, logx.Nop())

	job := storage.Job{ID: "J1", Title: "Baker", PostedBy: "U9"}
	res := svc.PublishNewJob(ctx, job)
	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, "https://site.example/jobs/J1", res.ApplyURL)
	assert.Equal(t, "M100", res.ExternalMessageID)

	rec, found, err := st.GetDelivery(ctx, "J1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.DeliveryPosted, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "M100", rec.ExternalMessageID)
	assert.NotNil(t, rec.PostedAt)
	assert.Empty(t, rec.LastError)

	res = svc.PublishNewJob(ctx, job)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonAlreadyPosted, res.Reason)
	assert.EqualValues(t, 1, gw.calls.Load())
}

func TestPublishFailureThenManualRetry(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gw := &fakeGateway{enabled: true, outcomes: []func() (telegram.DeliveryOutcome, error){
		exhaust("Bad Gateway"),
		succeed(2, "M7"),
	}}
	svc := New(baseCfg, st, gw, logx.Nop())
	job := storage.Job{ID: "J2", Title: "Dev"}

	res := svc.PublishNewJob(ctx, job)
	require.False(t, res.Success)
	require.False(t, res.Skipped)
	assert.Equal(t, "Bad Gateway", res.Error)

	rec, _, err := st.GetDelivery(ctx, "J2")
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, "Bad Gateway", rec.LastError)
	assert.Nil(t, rec.ClaimedUntil)

	res = svc.PublishNewJob(ctx, job)
	require.True(t, res.Success, "%+v", res)
	rec, _, err = st.GetDelivery(ctx, "J2")
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryPosted, rec.Status)
	assert.Equal(t, 5, rec.Attempts, "attempts accumulate across publishes")
	assert.Empty(t, rec.LastError)
	assert.EqualValues(t, 2, gw.calls.Load())
}

func TestPublishGatewayDisabledCreatesNoRecord(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gw := &fakeGateway{enabled: false}
	svc := New(baseCfg, st, gw, logx.Nop())

	res := svc.PublishNewJob(ctx, storage.Job{ID: "J3"})
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonGatewayDisabled, res.Reason)
	_, found, err := st.GetDelivery(ctx, "J3")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, gw.calls.Load())

	res = New(baseCfg, st, nil, logx.Nop()).PublishNewJob(ctx, storage.Job{ID: "J3"})
	assert.Equal(t, ReasonGatewayDisabled, res.Reason)
}

func TestPublishInvalidJob(t *testing.T) {
	svc := New(baseCfg, newStore(t), &fakeGateway{enabled: true}, logx.Nop())
	res := svc.PublishNewJob(context.Background(), storage.Job{ID: "  "})
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonInvalidJob, res.Reason)
}

func TestPublishUnresolvedApplyURLFailsWithoutSend(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gw := &fakeGateway{enabled: true}
	svc := New(Config{}, st, gw, logx.Nop())

	res := svc.PublishNewJob(ctx, storage.Job{ID: "J4"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrApplyURLUnresolved.Error(), res.Error)
	assert.Zero(t, gw.calls.Load())

	rec, found, err := st.GetDelivery(ctx, "J4")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.DeliveryFailed, rec.Status)
	assert.Zero(t, rec.Attempts)

	// fixing the config lets a retry through
	svc.SetConfig(Config{ApplyURLTemplate: "https://apply.example/{jobId}?src=tg"})
	res = svc.PublishNewJob(ctx, storage.Job{ID: "J4"})
	require.True(t, res.Success)
	assert.Equal(t, "https://apply.example/J4?src=tg", res.ApplyURL)
}

func TestPublishConcurrentAtMostOnePost(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gw := &fakeGateway{enabled: true, hold: 50 * time.Millisecond}
	svc := New(baseCfg, st, gw, logx.Nop())

	const n = 10
	results := make([]PublishResult, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = svc.PublishNewJob(ctx, storage.Job{ID: "J5", Title: "Race"})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	posted := 0
	for _, r := range results {
		if r.Success {
			posted++
			continue
		}
		require.True(t, r.Skipped, "%+v", r)
		assert.Contains(t, []string{ReasonDuplicatePrevented, ReasonInProgress, ReasonAlreadyPosted}, r.Reason)
	}
	assert.Equal(t, 1, posted)
	assert.EqualValues(t, 1, gw.calls.Load())

	rec, _, err := st.GetDelivery(ctx, "J5")
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryPosted, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
}

func TestPublishOutlivesCallerCancellation(t *testing.T) {
	st := newStore(t)
	gw := &fakeGateway{enabled: true, hold: 200 * time.Millisecond}
	svc := New(baseCfg, st, gw, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := svc.PublishNewJob(ctx, storage.Job{ID: "J1", Title: "Baker"})
	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, "M100", res.ExternalMessageID)

	rec, _, err := st.GetDelivery(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryPosted, rec.Status)
	assert.Equal(t, "M100", rec.ExternalMessageID)

	res = svc.PublishNewJob(context.Background(), storage.Job{ID: "J1"})
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonAlreadyPosted, res.Reason)
	assert.EqualValues(t, 1, gw.calls.Load(), "job posted once")
}

func TestPublishLateFailureKeepsPostedRecord(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	gw := &fakeGateway{enabled: true}
	gw.outcomes = []func() (telegram.DeliveryOutcome, error){
		func() (telegram.DeliveryOutcome, error) {
			// another publish took over the lease and posted first
			require.NoError(t, st.MarkPosted(ctx, "J9", 1, "M1", time.Now()))
			return exhaust("Bad Gateway")()
		},
	}
	svc := New(baseCfg, st, gw, logx.Nop())

	res := svc.PublishNewJob(ctx, storage.Job{ID: "J9"})
	assert.False(t, res.Success)
	assert.Equal(t, "Bad Gateway", res.Error)
	assert.NotErrorIs(t, res.Err, storage.ErrAlreadyPosted)

	rec, _, err := st.GetDelivery(ctx, "J9")
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryPosted, rec.Status)
	assert.Equal(t, "M1", rec.ExternalMessageID)
	assert.Empty(t, rec.LastError)
}

func TestPublishExpiredClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, st.CreateDelivery(ctx, storage.DeliveryRecord{JobID: "J6", ClaimedUntil: &past}))

	gw := &fakeGateway{enabled: true}
	res := New(baseCfg, st, gw, logx.Nop()).PublishNewJob(ctx, storage.Job{ID: "J6"})
	assert.True(t, res.Success, "%+v", res)
}

func TestPublishHeldClaimSkips(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	future := time.Now().Add(time.Hour)
	require.NoError(t, st.CreateDelivery(ctx, storage.DeliveryRecord{JobID: "J7", ClaimedUntil: &future}))

	gw := &fakeGateway{enabled: true}
	res := New(baseCfg, st, gw, logx.Nop()).PublishNewJob(ctx, storage.Job{ID: "J7"})
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonInProgress, res.Reason)
	assert.Zero(t, gw.calls.Load())
}

func TestPublishEmitsEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, "broadcast.")
	defer unsub()

	svc := New(baseCfg, newStore(t), &fakeGateway{enabled: true}, logx.Nop(), WithBus(bus))
	svc.PublishNewJob(context.Background(), storage.Job{ID: "J8"})
	svc.PublishNewJob(context.Background(), storage.Job{ID: "J8"})

	e := <-ch
	assert.Equal(t, EventPosted, e.Type)
	e = <-ch
	assert.Equal(t, EventSkipped, e.Type)
	res, ok := e.Data.(PublishResult)
	require.True(t, ok)
	assert.Equal(t, ReasonAlreadyPosted, res.Reason)
}

func TestResolveApplyURL(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"override wins", Config{ApplyURL: "https://x.example/apply", ApplyURLTemplate: "https://t/{jobId}", PublicBaseURL: "https://b"}, "https://x.example/apply"},
		{"template", Config{ApplyURLTemplate: "https://t.example/a/{jobId}", PublicBaseURL: "https://b"}, "https://t.example/a/J1"},
		{"base url", Config{PublicBaseURL: "https://site.example/"}, "https://site.example/jobs/J1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cfg.ResolveApplyURL("J1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	got, err := Config{PublicBaseURL: "https://b"}.ResolveApplyURL("a/b")
	require.NoError(t, err)
	assert.Equal(t, "https://b/jobs/a%2Fb", got)

	_, err = Config{}.ResolveApplyURL("J1")
	require.ErrorIs(t, err, ErrApplyURLUnresolved)
}
