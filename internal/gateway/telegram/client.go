package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"jobboard/pkg/logx"
	"jobboard/pkg/tgui"
)

// DeliveryOutcome is the result of a Send call.
type DeliveryOutcome struct {
	Attempt   int    // attempt number that succeeded (1-based)
	MessageID string // provider-assigned message id
	Skipped   bool   // gateway disabled, nothing sent
}

// DelayFunc waits d or until ctx is done.
type DelayFunc func(ctx context.Context, d time.Duration) error

type Option func(*Client)

// WithDelay replaces the wait between attempts. Tests use it to avoid sleeping.
func WithDelay(fn DelayFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.delay = fn
		}
	}
}

// WithHTTPClient replaces the HTTP client used for Bot API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	log  logx.Logger
	mode tgui.Mode

	bot     *tele.Bot
	http    *http.Client
	limiter *rate.Limiter
	delay   DelayFunc
}

// New builds a client. A config without token or channel id yields a disabled
// client whose Send always skips.
func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:     cfg,
		log:     log,
		mode:    tgui.ParseMode(cfg.ParseMode),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		delay:   sleepCtx,
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.http == nil {
		c.http = newHTTPClient(cfg)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return c, nil
	}

	settings := tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  c.http,
		Offline: true,
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	c.bot = b
	return c, nil
}

// newHTTPClient clones the default transport and drops the environment proxy
// unless explicitly enabled.
func newHTTPClient(cfg Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.UseProxy {
		tr.Proxy = nil
	}
	return &http.Client{Transport: tr, Timeout: cfg.RequestTimeout}
}

func (c *Client) IsEnabled() bool {
	return c != nil && c.bot != nil && c.cfg.Enabled()
}

// ParseMode returns the configured markup mode.
func (c *Client) ParseMode() tgui.Mode { return c.mode }

// Send posts a job to the channel with an Apply button targeting applyURL.
// It makes up to MaxAttempts calls, waiting attempt*RetryBase after each failure.
// Cancelling ctx does not abandon a send: each attempt ends on its response or
// the request timeout, so a post Telegram accepted is always reported.
func (c *Client) Send(ctx context.Context, job JobSummary, applyURL string) (DeliveryOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	if err := requireHTTPS("apply_url", applyURL); err != nil {
		return DeliveryOutcome{}, err
	}
	if !c.IsEnabled() {
		c.log.Debug("telegram disabled, broadcast skipped")
		return DeliveryOutcome{Skipped: true}, nil
	}

	text := FormatJob(c.mode, job, c.cfg.DescriptionLimit)
	opt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(c.mode),
		DisableWebPagePreview: true,
		ReplyMarkup: &tele.ReplyMarkup{
			InlineKeyboard: [][]tele.InlineButton{{
				{Text: applyButtonText, URL: applyURL},
			}},
		},
	}
	to := channelRecipient(c.cfg.ChannelID)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		attempts = attempt
		msg, err := c.sendOnce(ctx, to, text, opt)
		if err == nil {
			return DeliveryOutcome{Attempt: attempt, MessageID: strconv.Itoa(msg.ID)}, nil
		}
		lastErr = err
		c.log.Warn("telegram send attempt failed",
			logx.Int("attempt", attempt),
			logx.String("reason", shortReason(err)),
		)
		if attempt == MaxAttempts {
			break
		}
		if err := c.delay(ctx, time.Duration(attempt)*c.cfg.RetryBase); err != nil {
			lastErr = err
			break
		}
	}
	return DeliveryOutcome{}, &DeliveryFailedError{
		Attempts: attempts,
		Reason:   shortReason(lastErr),
		Err:      lastErr,
	}
}

// sendOnce runs one Bot API call. The HTTP client timeout bounds the call;
// ctx cancellation returns early and abandons the in-flight request.
func (c *Client) sendOnce(ctx context.Context, to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := c.bot.Send(to, what, opts...)
		if err == nil && m == nil {
			err = errors.New("empty send response")
		}
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendPlain delivers plain text to a chat. Used by the logging sink.
func (c *Client) SendPlain(ctx context.Context, chatID int64, threadID int, text string) error {
	if c == nil || c.bot == nil {
		return ErrGatewayUnavailable
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.sendOnce(ctx, &tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ThreadID:              threadID,
		DisableWebPagePreview: true,
	})
	return err
}

// RegisterWebhook points the bot's update delivery at webhookURL. Single attempt.
func (c *Client) RegisterWebhook(ctx context.Context, webhookURL string) error {
	if err := requireHTTPS("webhook_url", webhookURL); err != nil {
		return err
	}
	if c == nil || c.bot == nil {
		return ErrGatewayUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wh := &tele.Webhook{
		Endpoint:    &tele.WebhookEndpoint{PublicURL: webhookURL},
		SecretToken: c.cfg.WebhookSecret,
	}
	if err := c.bot.SetWebhook(wh); err != nil {
		return err
	}
	c.log.Info("telegram webhook registered", logx.String("url", webhookURL))
	return nil
}

// WebhookSecret returns the shared secret expected on inbound webhook calls.
func (c *Client) WebhookSecret() string {
	if c == nil {
		return ""
	}
	return c.cfg.WebhookSecret
}

func requireHTTPS(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ValidationError{Field: field, Reason: "empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return &ValidationError{Field: field, Reason: "must be an https URL"}
	}
	return nil
}

// channelRecipient addresses a channel by "@username" or numeric id.
type channelRecipient string

func (r channelRecipient) Recipient() string { return string(r) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
