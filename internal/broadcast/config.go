package broadcast

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

const (
	jobIDPlaceholder = "{jobId}"

	DefaultClaimTTL = 2 * time.Minute
)

var ErrApplyURLUnresolved = errors.New("apply url not configured")

type Config struct {
	// ApplyURL, when set, is used for every job.
	ApplyURL string
	// ApplyURLTemplate is used when ApplyURL is empty; "{jobId}" is substituted.
	ApplyURLTemplate string
	// PublicBaseURL is the last resort: "{PublicBaseURL}/jobs/{jobId}".
	PublicBaseURL string

	// ClaimTTL bounds how long one publish holds a record. It must exceed
	// telegram.Config.MaxSendDuration.
	ClaimTTL time.Duration
}

// ResolveApplyURL returns the apply link for jobID. The first configured source wins.
func (c Config) ResolveApplyURL(jobID string) (string, error) {
	id := url.PathEscape(strings.TrimSpace(jobID))
	if v := strings.TrimSpace(c.ApplyURL); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(c.ApplyURLTemplate); v != "" {
		return strings.ReplaceAll(v, jobIDPlaceholder, id), nil
	}
	if v := strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/"); v != "" {
		return v + "/jobs/" + id, nil
	}
	return "", ErrApplyURLUnresolved
}

func (c Config) claimTTL() time.Duration {
	if c.ClaimTTL <= 0 {
		return DefaultClaimTTL
	}
	return c.ClaimTTL
}
