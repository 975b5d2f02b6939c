package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// SMTPOptions configure the e-mail transport.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailNotifier sends plain-text alerts over SMTP, upgrading with STARTTLS when
// the server offers it.
type EmailNotifier struct {
	opts   SMTPOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewEmailNotifier constructs an SMTP notifier.
func NewEmailNotifier(opts SMTPOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
		now:    time.Now,
	}
}

// Send delivers one message to destination.
func (n *EmailNotifier) Send(ctx context.Context, destination, subject, body string) error {
	if n.opts.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if n.opts.From == "" {
		return fmt.Errorf("smtp from address not configured")
	}

	msg, err := newMessage(n.opts.From, destination, subject, body, n.now())
	if err != nil {
		return err
	}

	client, err := mail.NewClient(n.opts.Host, n.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", destination, err)
	}

	n.logger.Info().Str("destination", destination).Str("subject", subject).Msg("alert e-mail sent")
	return nil
}

func (n *EmailNotifier) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(n.opts.Port),
		mail.WithTimeout(n.opts.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if n.opts.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.opts.Username),
			mail.WithPassword(n.opts.Password),
		)
	}
	return opts
}

func newMessage(from, to, subject, body string, at time.Time) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("smtp from %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("smtp rcpt %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(at.UTC())
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

var _ Notifier = (*EmailNotifier)(nil)
