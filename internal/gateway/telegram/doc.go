// Package telegram is the outbound messaging gateway for job broadcasts.
//
// A Client posts one fixed-template message per job to the configured channel,
// retrying up to three times with linear backoff. It holds no delivery state;
// deduplication is the broadcast package's job.
package telegram
