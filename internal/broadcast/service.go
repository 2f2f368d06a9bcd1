package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"jobboard/internal/eventbus"
	"jobboard/internal/gateway/telegram"
	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

// Gateway sends one formatted job post. *telegram.Client implements it.
type Gateway interface {
	IsEnabled() bool
	Send(ctx context.Context, job telegram.JobSummary, applyURL string) (telegram.DeliveryOutcome, error)
}

// Store is the subset of storage.Store the orchestrator needs.
type Store interface {
	GetDelivery(ctx context.Context, jobID string) (storage.DeliveryRecord, bool, error)
	CreateDelivery(ctx context.Context, rec storage.DeliveryRecord) error
	ClaimDelivery(ctx context.Context, jobID string, now, until time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, jobID string) error
	MarkPosted(ctx context.Context, jobID string, attempts int, messageID string, postedAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, attempts int, lastError string) error
	ListDeliveries(ctx context.Context, f storage.DeliveryFilter) ([]storage.DeliveryRecord, error)
}

// persistTimeout bounds record writes that run after the caller's context ended.
const persistTimeout = 5 * time.Second

type Service struct {
	store Store
	gw    Gateway
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu  sync.RWMutex
	cfg Config
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, store Store, gw Gateway, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, gw: gw, log: log, cfg: cfg, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// SetConfig swaps apply-URL settings. Safe to call while publishes run.
func (s *Service) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// PublishNewJob broadcasts job at most once. It never returns an error: every
// outcome, including gateway exhaustion, is reported in the result.
func (s *Service) PublishNewJob(ctx context.Context, job storage.Job) PublishResult {
	if ctx == nil {
		ctx = context.Background()
	}
	jobID := strings.TrimSpace(job.ID)
	log := s.log.With(logx.String("job_id", jobID))

	if jobID == "" {
		return s.skipped(log, jobID, ReasonInvalidJob)
	}
	if s.gw == nil || !s.gw.IsEnabled() {
		return s.skipped(log, jobID, ReasonGatewayDisabled)
	}

	cfg := s.config()
	now := s.now()
	until := now.Add(cfg.claimTTL())

	rec, found, err := s.store.GetDelivery(ctx, jobID)
	if err != nil {
		return s.storeFailure(log, jobID, "lookup delivery", err)
	}

	prevAttempts := 0
	if found {
		if rec.Status == storage.DeliveryPosted {
			return s.skipped(log, jobID, ReasonAlreadyPosted)
		}
		ok, err := s.store.ClaimDelivery(ctx, jobID, now, until)
		if err != nil {
			return s.storeFailure(log, jobID, "claim delivery", err)
		}
		if !ok {
			// lost the race: either another publish holds the claim or it already posted
			if cur, found, err := s.store.GetDelivery(ctx, jobID); err == nil && found && cur.Status == storage.DeliveryPosted {
				return s.skipped(log, jobID, ReasonAlreadyPosted)
			}
			return s.skipped(log, jobID, ReasonInProgress)
		}
		prevAttempts = rec.Attempts
		log.Debug("delivery re-entered", logx.String("status", string(rec.Status)), logx.Int("attempts", rec.Attempts))
	} else {
		err := s.store.CreateDelivery(ctx, storage.DeliveryRecord{
			JobID:        jobID,
			Status:       storage.DeliveryPending,
			ClaimedUntil: &until,
			CreatedAt:    now,
		})
		if errors.Is(err, storage.ErrDuplicate) {
			return s.skipped(log, jobID, ReasonDuplicatePrevented)
		}
		if err != nil {
			return s.storeFailure(log, jobID, "create delivery", err)
		}
	}

	applyURL, err := cfg.ResolveApplyURL(jobID)
	if err != nil {
		return s.failed(ctx, log, jobID, "", prevAttempts, err)
	}

	// Once claimed, the send runs to completion. Each attempt is bounded by the
	// gateway's request timeout, not by the caller.
	out, err := s.gw.Send(context.WithoutCancel(ctx), summarize(job), applyURL)
	if err != nil {
		var dfe *telegram.DeliveryFailedError
		made := 0
		if errors.As(err, &dfe) {
			made = dfe.Attempts
		}
		return s.failed(ctx, log, jobID, applyURL, prevAttempts+made, err)
	}
	if out.Skipped {
		// gateway was disabled between the check and the call
		pctx, cancel := persistCtx(ctx)
		defer cancel()
		if err := s.store.ReleaseClaim(pctx, jobID); err != nil {
			log.Warn("release claim failed", logx.Err(err))
		}
		return s.skipped(log, jobID, ReasonGatewayDisabled)
	}

	attempts := prevAttempts + out.Attempt
	res := PublishResult{
		JobID:             jobID,
		Success:           true,
		ApplyURL:          applyURL,
		ExternalMessageID: out.MessageID,
		Attempts:          attempts,
	}
	pctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := s.store.MarkPosted(pctx, jobID, attempts, out.MessageID, s.now()); err != nil {
		// the post is live; only the record lags
		log.Error("mark posted failed", logx.String("message_id", out.MessageID), logx.Err(err))
		res.Err = err
	}
	log.Info("job broadcast posted",
		logx.String("message_id", out.MessageID),
		logx.Int("attempt", out.Attempt),
		logx.Int("attempts_total", attempts),
	)
	s.publish(EventPosted, res)
	return res
}

// Delivery returns the delivery record of a job.
func (s *Service) Delivery(ctx context.Context, jobID string) (storage.DeliveryRecord, bool, error) {
	return s.store.GetDelivery(ctx, strings.TrimSpace(jobID))
}

// Deliveries lists records for operator review.
func (s *Service) Deliveries(ctx context.Context, f storage.DeliveryFilter) ([]storage.DeliveryRecord, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown delivery status %q", f.Status)
	}
	return s.store.ListDeliveries(ctx, f)
}

func (s *Service) skipped(log logx.Logger, jobID, reason string) PublishResult {
	res := PublishResult{JobID: jobID, Skipped: true, Reason: reason}
	log.Info("job broadcast skipped", logx.String("reason", reason))
	s.publish(EventSkipped, res)
	return res
}

func (s *Service) failed(ctx context.Context, log logx.Logger, jobID, applyURL string, attempts int, cause error) PublishResult {
	reason := failureReason(cause)
	res := PublishResult{
		JobID:    jobID,
		ApplyURL: applyURL,
		Attempts: attempts,
		Error:    reason,
		Err:      cause,
	}
	pctx, cancel := persistCtx(ctx)
	defer cancel()
	switch err := s.store.MarkFailed(pctx, jobID, attempts, reason); {
	case errors.Is(err, storage.ErrAlreadyPosted):
		log.Warn("delivery posted by another publish, failure not recorded", logx.String("reason", reason))
	case err != nil:
		log.Error("persist failed delivery", logx.Err(err))
		res.Err = errors.Join(cause, err)
	}
	log.Warn("job broadcast failed", logx.Int("attempts_total", attempts), logx.String("reason", reason))
	s.publish(EventFailed, res)
	return res
}

// storeFailure reports a persistence error that happened before any send.
func (s *Service) storeFailure(log logx.Logger, jobID, op string, err error) PublishResult {
	err = fmt.Errorf("%s: %w", op, err)
	log.Error("broadcast store error", logx.Err(err))
	res := PublishResult{JobID: jobID, Error: err.Error(), Err: err}
	s.publish(EventFailed, res)
	return res
}

func (s *Service) publish(typ string, res PublishResult) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: res})
}

func failureReason(err error) string {
	var dfe *telegram.DeliveryFailedError
	if errors.As(err, &dfe) && dfe.Reason != "" {
		return dfe.Reason
	}
	return err.Error()
}

func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func summarize(j storage.Job) telegram.JobSummary {
	company := j.Company
	if strings.TrimSpace(company) == "" {
		company = j.PostedBy
	}
	return telegram.JobSummary{
		Title:       j.Title,
		Company:     company,
		Location:    j.Location,
		Salary:      j.Salary,
		Description: j.Description,
	}
}
