package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newManager(path string, env ...string) *ConfigManager {
	m := NewConfigManager(path)
	m.environ = func() []string { return env }
	return m
}

func TestParseJSONOntoDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", `{
		"http": {"addr": ":9090", "jwt_secret": "k"},
		"telegram": {"token": "123:abc", "channel_id": "@jobs"},
		"broadcast": {"public_base_url": "https://site.example"}
	}`)
	cfg, err := newManager(p).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "@jobs", cfg.Telegram.ChannelID)
	assert.Equal(t, "HTML", cfg.Telegram.ParseMode, "default kept")
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "0 9 * * *", cfg.Digest.Schedule)
}

func TestParseYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", `
http:
  addr: ":7070"
  allow_unauthenticated_admin: true
digest:
  enabled: true
  schedule: "@every 1h"
  timezone: UTC
`)
	cfg, err := newManager(p).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "@every 1h", cfg.Digest.Schedule)
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	dir := t.TempDir()
	_, err := newManager(writeFile(t, dir, "a.json", `{"http": {"adr": ":1"}}`)).Parse()
	require.Error(t, err)

	_, err = newManager(writeFile(t, dir, "b.json", `{} {}`)).Parse()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", `{"http": {"jwt_secret": "file"}, "telegram": {"channel_id": "@file"}}`)
	m := newManager(p,
		"JOBBOARD_TELEGRAM_BOT_TOKEN=123:env",
		"JOBBOARD_TELEGRAM_CHANNEL_ID=@env",
		"JOBBOARD_TELEGRAM_RETRY_BASE=2s",
		"JOBBOARD_BROADCAST_PUBLIC_BASE_URL=https://env.example",
		"JOBBOARD_LOGGING_TELEGRAM_CHAT_ID=-100123",
		"JOBBOARD_HTTP_PRODUCTION=true",
		"UNRELATED=1",
	)
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123:env", cfg.Telegram.Token)
	assert.Equal(t, "@env", cfg.Telegram.ChannelID)
	assert.Equal(t, "2s", cfg.Telegram.RetryBase)
	assert.Equal(t, "https://env.example", cfg.Broadcast.PublicBaseURL)
	assert.EqualValues(t, -100123, cfg.Logging.Telegram.ChatID)
	assert.True(t, cfg.HTTP.Production)
	assert.Equal(t, "file", cfg.HTTP.JWTSecret, "file value survives when env is unset")
}

func TestEmptyPathUsesDefaultsAndEnv(t *testing.T) {
	cfg, err := newManager("", "JOBBOARD_HTTP_ALLOW_UNAUTHENTICATED_ADMIN=true").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Defaults()
		c.HTTP.JWTSecret = "k"
		return &c
	}
	require.NoError(t, Validate(base()))

	cases := map[string]func(c *Config){
		"token without channel": func(c *Config) { c.Telegram.Token = "1:a" },
		"http apply url":        func(c *Config) { c.Broadcast.ApplyURL = "http://x.example/apply" },
		"bad duration":          func(c *Config) { c.Telegram.RetryBase = "soon" },
		"negative duration":     func(c *Config) { c.Broadcast.ClaimTTL = "-1s" },
		"bad parse mode":        func(c *Config) { c.Telegram.ParseMode = "bbcode" },
		"unknown driver":        func(c *Config) { c.Storage.Driver = "mongo" },
		"bad timezone":          func(c *Config) { c.Digest.Timezone = "Mars/Olympus" },
		"missing jwt secret":    func(c *Config) { c.HTTP.JWTSecret = "" },
		"log chat missing":      func(c *Config) { c.Logging.Telegram.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			require.Error(t, Validate(c))
		})
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = Duration("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = Duration("x", "abc", time.Second)
	require.ErrorContains(t, err, "x: invalid duration")
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"http": {"jwt_secret": "k"}, "logging": {"level": "info"}}`)
	m := newManager(p)
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	ch := m.Subscribe(1)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	writeFile(t, dir, "config.json", `{"http": {"jwt_secret": "k"}, "logging": {"level": "debug"}}`)
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	got := <-ch
	assert.Equal(t, "debug", got.Logging.Level)

	// invalid config is rejected and the previous one stays active
	writeFile(t, dir, "config.json", `{"http": {"jwt_secret": "k"}, "storage": {"driver": "mongo"}}`)
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "debug", m.Get().Logging.Level)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPicksUpFileChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"http": {"jwt_secret": "k"}}`)
	m := newManager(p)
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.json", `{"http": {"jwt_secret": "k"}, "digest": {"enabled": false, "schedule": ""}}`)

	select {
	case got := <-ch:
		assert.False(t, got.Digest.Enabled)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload published")
	}
	cancel()
	<-done
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := Defaults()
	newCfg := Defaults()
	newCfg.Telegram.Token = "123:secret"
	newCfg.Telegram.ChannelID = "@jobs"
	newCfg.Broadcast.PublicBaseURL = "https://site.example"

	changed, attrs := SummarizeConfigChange(&oldCfg, &newCfg)
	assert.Equal(t, []string{"broadcast", "telegram"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"telegram"}, RestartRequired(changed))

	changed, _ = SummarizeConfigChange(&newCfg, &newCfg)
	assert.Empty(t, changed)
}

func TestLoadDotEnvIgnoresMissing(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	p := writeFile(t, t.TempDir(), "x.env", "JOBBOARD_TEST_DOTENV=yes\n")
	t.Setenv("JOBBOARD_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("JOBBOARD_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(p))
	assert.Equal(t, "yes", os.Getenv("JOBBOARD_TEST_DOTENV"))
}
