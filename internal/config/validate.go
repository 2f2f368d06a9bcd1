package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Duration parses a Go duration string at path. Empty or zero yields def.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks cross-field rules that JSON decoding cannot express.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := Duration(path, raw, 0)
		add(err)
	}

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add(errors.New("http.addr: required"))
	}
	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	if !cfg.HTTP.AllowUnauthenticatedAdmin && strings.TrimSpace(cfg.HTTP.JWTSecret) == "" {
		add(errors.New("http.jwt_secret: required unless allow_unauthenticated_admin is set"))
	}

	tg := cfg.Telegram
	if (strings.TrimSpace(tg.Token) == "") != (strings.TrimSpace(tg.ChannelID) == "") {
		add(errors.New("telegram: token and channel_id must be set together"))
	}
	switch strings.ToLower(strings.TrimSpace(tg.ParseMode)) {
	case "", "html", "markdownv2":
	default:
		add(fmt.Errorf("telegram.parse_mode: unsupported %q", tg.ParseMode))
	}
	dur("telegram.request_timeout", tg.RequestTimeout)
	dur("telegram.retry_base", tg.RetryBase)
	if tg.RatePerSec < 0 {
		add(errors.New("telegram.rate_per_sec: must be >= 0"))
	}
	if tg.APIURL != "" {
		add(httpURL("telegram.api_url", tg.APIURL, false))
	}

	bc := cfg.Broadcast
	add(httpURL("broadcast.apply_url", bc.ApplyURL, true))
	add(httpURL("broadcast.apply_url_template", strings.ReplaceAll(bc.ApplyURLTemplate, "{jobId}", "x"), true))
	add(httpURL("broadcast.public_base_url", bc.PublicBaseURL, true))
	dur("broadcast.claim_ttl", bc.ClaimTTL)
	if bc.MaxConcurrent < 0 {
		add(errors.New("broadcast.max_concurrent: must be >= 0"))
	}

	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		add(errors.New("logging.telegram.chat_id: required when enabled"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "", "none":
	default:
		add(fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("digest.timezone: %w", err))
		}
	}
	if cfg.Digest.Enabled && strings.TrimSpace(cfg.Digest.Schedule) == "" {
		add(errors.New("digest.schedule: required when enabled"))
	}

	return errors.Join(errs...)
}

// httpURL accepts an empty value. Public links must be https.
func httpURL(path, raw string, httpsOnly bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s: invalid URL %q", path, raw)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !httpsOnly:
	default:
		return fmt.Errorf("%s: must use https", path)
	}
	return nil
}
