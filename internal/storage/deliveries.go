package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const deliveryColumns = `job_id, status, attempts, external_message_id, posted_at, last_error, claimed_until, created_at, updated_at`

func (s *sqliteStore) GetDelivery(ctx context.Context, jobID string) (DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return DeliveryRecord{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE job_id = ?`, jobID)
	rec, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeliveryRecord{}, false, nil
	}
	if err != nil {
		return DeliveryRecord{}, false, err
	}
	return rec, true, nil
}

// CreateDelivery inserts a new record. The job_id primary key is the only
// concurrency control: a second insert for the same job returns ErrDuplicate.
func (s *sqliteStore) CreateDelivery(ctx context.Context, rec DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(rec.JobID) == "" {
		return errors.New("delivery job id is required")
	}
	if rec.Status == "" {
		rec.Status = DeliveryPending
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid delivery status %q", rec.Status)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(`+deliveryColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(job_id) DO NOTHING`,
		rec.JobID, string(rec.Status), rec.Attempts, nullStr(rec.ExternalMessageID), nullMilli(rec.PostedAt),
		nullStr(rec.LastError), nullMilli(rec.ClaimedUntil), rec.CreatedAt.UnixMilli(), rec.CreatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// ClaimDelivery marks a non-posted record as in flight until `until`.
// It reports false when the record is posted, missing, or claimed by someone else.
func (s *sqliteStore) ClaimDelivery(ctx context.Context, jobID string, now, until time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET claimed_until = ?, updated_at = ?
		 WHERE job_id = ? AND status != 'posted' AND (claimed_until IS NULL OR claimed_until <= ?)`,
		until.UnixMilli(), now.UnixMilli(), jobID, now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ReleaseClaim(ctx context.Context, jobID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.updateOne(ctx,
		`UPDATE deliveries SET claimed_until = NULL, updated_at = ? WHERE job_id = ?`,
		time.Now().UnixMilli(), jobID,
	)
}

func (s *sqliteStore) MarkPosted(ctx context.Context, jobID string, attempts int, messageID string, postedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(messageID) == "" {
		return errors.New("posted delivery requires an external message id")
	}
	if postedAt.IsZero() {
		postedAt = time.Now()
	}
	err := s.updateOne(ctx,
		`UPDATE deliveries
		 SET status = 'posted', attempts = MAX(attempts, ?), external_message_id = ?, posted_at = ?,
		     last_error = NULL, claimed_until = NULL, updated_at = ?
		 WHERE job_id = ? AND status != 'posted'`,
		attempts, messageID, postedAt.UnixMilli(), time.Now().UnixMilli(), jobID,
	)
	// the first posted transition wins; later ones leave the record untouched
	if err = s.notPosted(ctx, jobID, err); errors.Is(err, ErrAlreadyPosted) {
		return nil
	}
	return err
}

func (s *sqliteStore) MarkFailed(ctx context.Context, jobID string, attempts int, lastError string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	lastError = strings.TrimSpace(lastError)
	if lastError == "" {
		lastError = "unknown error"
	}
	err := s.updateOne(ctx,
		`UPDATE deliveries
		 SET status = 'failed', attempts = MAX(attempts, ?), last_error = ?, claimed_until = NULL, updated_at = ?
		 WHERE job_id = ? AND status != 'posted'`,
		attempts, lastError, time.Now().UnixMilli(), jobID,
	)
	return s.notPosted(ctx, jobID, err)
}

// notPosted turns ErrNotFound from a status-guarded update into
// ErrAlreadyPosted when the record exists and is posted.
func (s *sqliteStore) notPosted(ctx context.Context, jobID string, err error) error {
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	rec, found, gerr := s.GetDelivery(ctx, jobID)
	if gerr != nil {
		return gerr
	}
	if found && rec.Status == DeliveryPosted {
		return ErrAlreadyPosted
	}
	return err
}

func (s *sqliteStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + deliveryColumns + ` FROM deliveries`
	args := make([]any, 0, 3)
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY updated_at DESC, job_id LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]DeliveryRecord, 0, limit)
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountDeliveries(ctx context.Context) (map[DeliveryStatus]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[DeliveryStatus]int{
		DeliveryPending: 0,
		DeliveryPosted:  0,
		DeliveryFailed:  0,
	}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[DeliveryStatus(st)] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDelivery(r rowScanner) (DeliveryRecord, error) {
	var (
		rec              DeliveryRecord
		status           string
		msgID, lastErr   sql.NullString
		postedAt, claim  sql.NullInt64
		created, updated int64
	)
	if err := r.Scan(&rec.JobID, &status, &rec.Attempts, &msgID, &postedAt, &lastErr, &claim, &created, &updated); err != nil {
		return DeliveryRecord{}, err
	}
	rec.Status = DeliveryStatus(status)
	rec.ExternalMessageID = msgID.String
	rec.LastError = lastErr.String
	rec.PostedAt = fromMilli(postedAt)
	rec.ClaimedUntil = fromMilli(claim)
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}
