package telegram

import (
	"strings"
	"time"
)

const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultRetryBase        = time.Second
	DefaultRatePerSec       = 1.0
	DefaultDescriptionLimit = 600

	// MaxAttempts is the number of send attempts per Send call.
	MaxAttempts = 3
)

type Config struct {
	Token     string
	ChannelID string // "@channel" or numeric "-100..." id
	ParseMode string // HTML (default) or MarkdownV2
	UseProxy  bool
	APIURL    string // empty means the public Bot API

	RequestTimeout   time.Duration
	RetryBase        time.Duration
	RatePerSec       float64
	DescriptionLimit int

	WebhookSecret string
}

func (c Config) withDefaults() Config {
	c.Token = strings.TrimSpace(c.Token)
	c.ChannelID = strings.TrimSpace(c.ChannelID)
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.DescriptionLimit <= 0 {
		c.DescriptionLimit = DefaultDescriptionLimit
	}
	return c
}

// MaxSendDuration is the longest one Send can take: MaxAttempts request
// timeouts plus the linear backoff between them. Rate limiter waits are excluded.
func (c Config) MaxSendDuration() time.Duration {
	c = c.withDefaults()
	d := time.Duration(MaxAttempts) * c.RequestTimeout
	for a := 1; a < MaxAttempts; a++ {
		d += time.Duration(a) * c.RetryBase
	}
	return d
}

// Enabled reports whether both credentials needed for a broadcast are present.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.ChannelID) != ""
}
