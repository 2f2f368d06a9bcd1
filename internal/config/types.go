package config

// Config is the full service configuration. Files are JSON or YAML with
// snake_case keys; every leaf can be overridden by a JOBBOARD_* environment
// variable (see the env tags), e.g. JOBBOARD_TELEGRAM_BOT_TOKEN.
//
// Durations are Go duration strings ("500ms", "10s", "2m").
type Config struct {
	HTTP      HTTPConfig      `json:"http" envPrefix:"HTTP_"`
	Telegram  TelegramConfig  `json:"telegram" envPrefix:"TELEGRAM_"`
	Broadcast BroadcastConfig `json:"broadcast" envPrefix:"BROADCAST_"`
	Logging   LoggingConfig   `json:"logging" envPrefix:"LOGGING_"`
	Storage   StorageConfig   `json:"storage" envPrefix:"STORAGE_"`
	Digest    DigestConfig    `json:"digest" envPrefix:"DIGEST_"`
	Pprof     PprofConfig     `json:"pprof" envPrefix:"PPROF_"`
}

type HTTPConfig struct {
	Addr string `json:"addr" env:"ADDR"`
	// Production enables transport checks such as rejecting plain-HTTP webhooks.
	Production bool `json:"production" env:"PRODUCTION"`
	// JWTSecret signs admin bearer tokens (HS256). Never logged.
	JWTSecret                 string `json:"jwt_secret,omitempty" env:"JWT_SECRET"`
	AllowUnauthenticatedAdmin bool   `json:"allow_unauthenticated_admin,omitempty" env:"ALLOW_UNAUTHENTICATED_ADMIN"`

	ReadTimeout     string `json:"read_timeout,omitempty" env:"READ_TIMEOUT"`
	WriteTimeout    string `json:"write_timeout,omitempty" env:"WRITE_TIMEOUT"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" env:"SHUTDOWN_TIMEOUT"`
}

// TelegramConfig configures the broadcast gateway. Token and channel_id both
// empty means broadcasting is disabled and job creation still works.
type TelegramConfig struct {
	Token            string  `json:"token" env:"BOT_TOKEN"`
	ChannelID        string  `json:"channel_id" env:"CHANNEL_ID"`
	ParseMode        string  `json:"parse_mode,omitempty" env:"PARSE_MODE"`
	UseProxy         bool    `json:"use_proxy,omitempty" env:"USE_PROXY"`
	APIURL           string  `json:"api_url,omitempty" env:"API_URL"`
	RequestTimeout   string  `json:"request_timeout,omitempty" env:"REQUEST_TIMEOUT"`
	RetryBase        string  `json:"retry_base,omitempty" env:"RETRY_BASE"`
	RatePerSec       float64 `json:"rate_per_sec,omitempty" env:"RATE_PER_SEC"`
	DescriptionLimit int     `json:"description_limit,omitempty" env:"DESCRIPTION_LIMIT"`
	WebhookSecret    string  `json:"webhook_secret,omitempty" env:"WEBHOOK_SECRET"`
}

type BroadcastConfig struct {
	ApplyURL         string `json:"apply_url,omitempty" env:"APPLY_URL"`
	ApplyURLTemplate string `json:"apply_url_template,omitempty" env:"APPLY_URL_TEMPLATE"`
	PublicBaseURL    string `json:"public_base_url,omitempty" env:"PUBLIC_BASE_URL"`
	ClaimTTL         string `json:"claim_ttl,omitempty" env:"CLAIM_TTL"`
	// MaxConcurrent bounds in-flight background publishes.
	MaxConcurrent int `json:"max_concurrent,omitempty" env:"MAX_CONCURRENT"`
}

type LoggingConfig struct {
	Level    string          `json:"level" env:"LEVEL"`
	Console  bool            `json:"console" env:"CONSOLE"`
	File     LoggingFile     `json:"file" envPrefix:"FILE_"`
	Telegram LoggingTelegram `json:"telegram" envPrefix:"TELEGRAM_"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}

// LoggingTelegram forwards warnings and errors to an operator chat through
// the broadcast bot.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled" env:"ENABLED"`
	ChatID     int64  `json:"chat_id" env:"CHAT_ID"`
	ThreadID   int    `json:"thread_id" env:"THREAD_ID"`
	MinLevel   string `json:"min_level" env:"MIN_LEVEL"`
	RatePerSec int    `json:"rate_per_sec" env:"RATE_PER_SEC"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/jobboard.db" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"DRIVER"`
	Path        string `json:"path" env:"PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty" env:"BUSY_TIMEOUT"`
}

// DigestConfig schedules the failed-delivery report.
type DigestConfig struct {
	Enabled      bool   `json:"enabled" env:"ENABLED"`
	Schedule     string `json:"schedule" env:"SCHEDULE"`
	Timezone     string `json:"timezone,omitempty" env:"TIMEZONE"`
	RecentFailed int    `json:"recent_failed,omitempty" env:"RECENT_FAILED"`
}

// PprofConfig exposes net/http/pprof on a separate listener. Non-loopback
// addresses require a token.
type PprofConfig struct {
	Enabled              bool   `json:"enabled" env:"ENABLED"`
	Addr                 string `json:"addr,omitempty" env:"ADDR"`
	Token                string `json:"token,omitempty" env:"TOKEN"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty" env:"BLOCK_PROFILE_RATE"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty" env:"MUTEX_PROFILE_FRACTION"`
}

// Defaults is the base every file is decoded onto.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Telegram: TelegramConfig{
			ParseMode: "HTML",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
		Storage: StorageConfig{Driver: "sqlite", Path: "./data/jobboard.db"},
		Digest:  DigestConfig{Enabled: true, Schedule: "0 9 * * *", RecentFailed: 10},
		Pprof:   PprofConfig{Addr: "127.0.0.1:6060"},
	}
}
