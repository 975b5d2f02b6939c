package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Notifier delivers one rendered message to a destination.
type Notifier interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, destination, subject, body string) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, destination, subject, body string) error {
	return f(ctx, destination, subject, body)
}

const (
	telegramScheme = "telegram"
	logScheme      = "log"
)

// Router picks a transport from the destination form:
// "telegram" or "telegram:<chat_id>", "log:<name>", or an e-mail address.
type Router struct {
	Telegram Notifier
	Email    Notifier
	Log      Notifier
}

// Send forwards to the transport matching destination.
func (r *Router) Send(ctx context.Context, destination, subject, body string) error {
	target, err := r.route(destination)
	if err != nil {
		return err
	}
	return target.Send(ctx, destination, subject, body)
}

func (r *Router) route(destination string) (Notifier, error) {
	scheme, _, _ := strings.Cut(destination, ":")
	switch {
	case scheme == telegramScheme:
		if r.Telegram == nil {
			return nil, fmt.Errorf("telegram transport not configured for %q", destination)
		}
		return r.Telegram, nil
	case scheme == logScheme:
		if r.Log == nil {
			return nil, fmt.Errorf("log transport not configured for %q", destination)
		}
		return r.Log, nil
	case strings.Contains(destination, "@"):
		if r.Email == nil {
			return nil, fmt.Errorf("email transport not configured for %q", destination)
		}
		return r.Email, nil
	default:
		return nil, fmt.Errorf("no transport for destination %q", destination)
	}
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Send logs the message at warn level.
func (n *LogNotifier) Send(ctx context.Context, destination, subject, body string) error {
	n.logger.Warn().Str("destination", destination).Str("subject", subject).Msg(body)
	return nil
}

var (
	_ Notifier = (*Router)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = NotifierFunc(nil)
)
