package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobboard/internal/broadcast"
	"jobboard/internal/config"
	"jobboard/internal/digest"
	"jobboard/internal/gateway/telegram"
	"jobboard/internal/httpapi"
	"jobboard/internal/observability/pprof"
	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

const defaultMaxConcurrent = 4

// validateConfig runs the config package rules plus component-level checks so
// a bad hot reload is rejected before anything is applied.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	return errors.Join(
		mapDigestConfig(cfg).Validate(),
		mapPprofConfig(cfg).Validate(),
		func() error { _, err := mapTelegramConfig(cfg); return err }(),
		func() error { _, err := mapBroadcastConfig(cfg); return err }(),
		func() error { _, err := mapHTTPConfig(cfg); return err }(),
		func() error { _, err := mapStorageConfig(cfg); return err }(),
	)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig maps storage settings. Driver "none" keeps data in an
// in-process SQLite database that is lost on restart.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{Driver: "sqlite", Path: ":memory:", BusyTimeout: busy}, nil
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	reqTimeout, err := config.Duration("telegram.request_timeout", tc.RequestTimeout, telegram.DefaultRequestTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	retryBase, err := config.Duration("telegram.retry_base", tc.RetryBase, telegram.DefaultRetryBase)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:            tc.Token,
		ChannelID:        tc.ChannelID,
		ParseMode:        tc.ParseMode,
		UseProxy:         tc.UseProxy,
		APIURL:           tc.APIURL,
		RequestTimeout:   reqTimeout,
		RetryBase:        retryBase,
		RatePerSec:       tc.RatePerSec,
		DescriptionLimit: tc.DescriptionLimit,
		WebhookSecret:    tc.WebhookSecret,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	ttl, err := config.Duration("broadcast.claim_ttl", bc.ClaimTTL, broadcast.DefaultClaimTTL)
	if err != nil {
		return broadcast.Config{}, err
	}
	// a lease that expires mid-send lets a second publish post the job again
	if tc, err := mapTelegramConfig(cfg); err == nil {
		if worst := tc.MaxSendDuration(); ttl <= worst {
			return broadcast.Config{}, fmt.Errorf("broadcast.claim_ttl: %s must exceed the worst-case send time %s", ttl, worst)
		}
	}
	return broadcast.Config{
		ApplyURL:         bc.ApplyURL,
		ApplyURLTemplate: bc.ApplyURLTemplate,
		PublicBaseURL:    bc.PublicBaseURL,
		ClaimTTL:         ttl,
	}, nil
}

func maxConcurrent(cfg *config.Config) int64 {
	if n := cfg.Broadcast.MaxConcurrent; n > 0 {
		return int64(n)
	}
	return defaultMaxConcurrent
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.Duration("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.Duration("http.write_timeout", hc.WriteTimeout, time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	shutdown, err := config.Duration("http.shutdown_timeout", hc.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:                      hc.Addr,
		Production:                hc.Production,
		JWTSecret:                 hc.JWTSecret,
		AllowUnauthenticatedAdmin: hc.AllowUnauthenticatedAdmin,
		WebhookSecret:             cfg.Telegram.WebhookSecret,
		ReadTimeout:               read,
		WriteTimeout:              write,
		ShutdownTimeout:           shutdown,
	}, nil
}

func mapDigestConfig(cfg *config.Config) digest.Config {
	dc := cfg.Digest
	return digest.Config{
		Enabled:      dc.Enabled,
		Schedule:     dc.Schedule,
		Timezone:     dc.Timezone,
		RecentFailed: dc.RecentFailed,
	}
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	pc := cfg.Pprof
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 pc.Addr,
		Token:                pc.Token,
		BlockProfileRate:     pc.BlockProfileRate,
		MutexProfileFraction: pc.MutexProfileFraction,
	}
}
