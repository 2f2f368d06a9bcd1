package telegram

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ErrGatewayUnavailable is returned when credentials are missing.
var ErrGatewayUnavailable = errors.New("telegram gateway not configured")

// ValidationError reports caller input rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeliveryFailedError is returned when every send attempt failed.
type DeliveryFailedError struct {
	Attempts int
	Reason   string // short description of the last error
	Err      error
}

func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempts: %s", e.Attempts, e.Reason)
}

func (e *DeliveryFailedError) Unwrap() error { return e.Err }

const maxReasonLen = 200

// shortReason extracts a compact, operator-readable description of err.
func shortReason(err error) string {
	if err == nil {
		return ""
	}
	var te *tele.Error
	if errors.As(err, &te) && strings.TrimSpace(te.Description) != "" {
		return clip(te.Description)
	}
	s := err.Error()
	for _, p := range []string{"telebot: ", "telegram: "} {
		s = strings.TrimPrefix(s, p)
	}
	return clip(strings.TrimSpace(s))
}

func clip(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	r := []rune(s)
	if len(r) <= maxReasonLen {
		return s
	}
	return string(r[:maxReasonLen]) + "…"
}
