// Package broadcast decides whether a job is sent to the channel, guards
// against duplicate posts and records the outcome of every publish.
//
// Each job has at most one delivery record. A record that reached "posted" is
// never sent again; "pending" and "failed" records may be re-entered by a later
// publish, for example a manual admin retry. Concurrent publishes for the same
// job are serialized through a short claim lease stored on the record.
package broadcast
