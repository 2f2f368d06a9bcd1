package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "jobboard/pkg/logx"
)

// Store is the persistence API used by services.
type Store interface {
	CreateJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	SearchJobs(ctx context.Context, q JobQuery) ([]Job, int, error)

	GetDelivery(ctx context.Context, jobID string) (DeliveryRecord, bool, error)
	CreateDelivery(ctx context.Context, rec DeliveryRecord) error
	ClaimDelivery(ctx context.Context, jobID string, now, until time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, jobID string) error
	// MarkPosted is a no-op on a record that is already posted.
	MarkPosted(ctx context.Context, jobID string, attempts int, messageID string, postedAt time.Time) error
	// MarkFailed returns ErrAlreadyPosted instead of downgrading a posted record.
	MarkFailed(ctx context.Context, jobID string, attempts int, lastError string) error
	ListDeliveries(ctx context.Context, f DeliveryFilter) ([]DeliveryRecord, error)
	CountDeliveries(ctx context.Context) (map[DeliveryStatus]int, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
