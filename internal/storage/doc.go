// Package storage provides the SQLite persistence layer.
//
// It stores:
//   - Job postings
//   - Broadcast delivery records (one per job, unique on job_id)
//   - Audit log appends (operator actions)
//
// Records are never deleted; the deliveries table doubles as the
// duplicate-send guard and the audit trail of every broadcast.
package storage
