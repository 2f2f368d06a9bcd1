package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"jobboard/pkg/logx"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// handleTelegramWebhook accepts provider callbacks. Only transport and secret
// checks reject a call; once accepted the response is always 200 so Telegram
// does not redeliver.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Production && !isSecure(r) {
		s.log.Warn("webhook rejected: insecure transport", logx.String("remote", r.RemoteAddr))
		writeError(w, http.StatusForbidden, "secure transport required")
		return
	}
	if secret := s.cfg.WebhookSecret; secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.log.Warn("webhook rejected: secret mismatch", logx.String("remote", r.RemoteAddr))
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	var up tele.Update
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil {
		err = json.Unmarshal(body, &up)
	}
	if err != nil {
		s.log.Warn("webhook update undecodable", logx.Err(err))
	} else {
		s.log.Debug("webhook update received", logx.Int("update_id", up.ID), logx.String("kind", updateKind(up)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func updateKind(u tele.Update) string {
	switch {
	case u.Message != nil:
		return "message"
	case u.ChannelPost != nil:
		return "channel_post"
	case u.Callback != nil:
		return "callback"
	case u.MyChatMember != nil:
		return "my_chat_member"
	default:
		return "other"
	}
}
