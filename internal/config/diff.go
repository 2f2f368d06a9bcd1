package config

import (
	"sort"
	"strings"

	"jobboard/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"http":     true,
	"telegram": true,
	"storage":  true,
}

// SummarizeConfigChange lists changed sections and returns log fields that
// describe the new values. Secrets are reported only as "<name>_set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh.Addr != nh.Addr || oh.Production != nh.Production ||
		oh.AllowUnauthenticatedAdmin != nh.AllowUnauthenticatedAdmin ||
		oh.ReadTimeout != nh.ReadTimeout || oh.WriteTimeout != nh.WriteTimeout ||
		oh.ShutdownTimeout != nh.ShutdownTimeout || isSet(oh.JWTSecret) != isSet(nh.JWTSecret) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", nh.Addr),
			logx.Bool("http.production", nh.Production),
			logx.Bool("http.jwt_secret_set", isSet(nh.JWTSecret)),
			logx.Bool("http.allow_unauthenticated_admin", nh.AllowUnauthenticatedAdmin),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.ChannelID != nt.ChannelID || ot.ParseMode != nt.ParseMode || ot.UseProxy != nt.UseProxy ||
		ot.APIURL != nt.APIURL || ot.RequestTimeout != nt.RequestTimeout || ot.RetryBase != nt.RetryBase ||
		ot.RatePerSec != nt.RatePerSec || ot.DescriptionLimit != nt.DescriptionLimit ||
		isSet(ot.Token) != isSet(nt.Token) || isSet(ot.WebhookSecret) != isSet(nt.WebhookSecret) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", isSet(nt.Token)),
			logx.String("telegram.channel_id", nt.ChannelID),
			logx.String("telegram.parse_mode", nt.ParseMode),
			logx.Bool("telegram.webhook_secret_set", isSet(nt.WebhookSecret)),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		nb := newCfg.Broadcast
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.apply_url", nb.ApplyURL),
			logx.String("broadcast.apply_url_template", nb.ApplyURLTemplate),
			logx.String("broadcast.public_base_url", nb.PublicBaseURL),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		ns := newCfg.Storage
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.path_set", isSet(ns.Path)),
		)
	}

	if oldCfg.Digest != newCfg.Digest {
		nd := newCfg.Digest
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", nd.Enabled),
			logx.String("digest.schedule", nd.Schedule),
			logx.String("digest.timezone", nd.Timezone),
		)
	}

	op, np := oldCfg.Pprof, newCfg.Pprof
	if op.Enabled != np.Enabled || op.Addr != np.Addr || isSet(op.Token) != isSet(np.Token) ||
		op.BlockProfileRate != np.BlockProfileRate || op.MutexProfileFraction != np.MutexProfileFraction {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.addr", np.Addr),
			logx.Bool("pprof.token_set", isSet(np.Token)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports which of the changed sections cannot be hot-applied.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func isSet(s string) bool { return strings.TrimSpace(s) != "" }
