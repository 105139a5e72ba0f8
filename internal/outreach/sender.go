package outreach

import (
	"context"
	"errors"

	"leadpulse_backend/internal/governor"
	"leadpulse_backend/platform/config"

	mail "github.com/wneessen/go-mail"
)

// ChannelSender delivers one rendered action on a single channel. Platform
// DM and SMS senders are external collaborators implementing this interface;
// only email is delivered in-process.
type ChannelSender interface {
	Send(ctx context.Context, action governor.Action, recipient string) (externalID string, err error)
}

// permanentError wraps a failure that must not be retried.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable for the dispatcher.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether the error was marked non-retryable.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// EmailSender delivers email actions over SMTP.
type EmailSender struct {
	cfg config.EmailConfig
}

// NewEmailSender creates an SMTP-backed email sender.
func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

// Send delivers one email. A missing recipient is permanent; SMTP failures
// are transient and left to the dispatcher's retry.
func (s *EmailSender) Send(ctx context.Context, action governor.Action, recipient string) (string, error) {
	if recipient == "" {
		return "", Permanent(errors.New("lead has no email address"))
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.GetEmailFromAddress()); err != nil {
		return "", Permanent(err)
	}
	if err := msg.To(recipient); err != nil {
		return "", Permanent(err)
	}
	subject := action.Subject
	if subject == "" {
		subject = "A note from our team"
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, action.Message)

	client, err := mail.NewClient(s.cfg.GetSMTPHost(),
		mail.WithPort(s.cfg.GetSMTPPort()),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.GetSMTPUsername()),
		mail.WithPassword(s.cfg.GetSMTPPassword()),
	)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", err
	}
	return msg.GetGenHeader(mail.HeaderMessageID)[0], nil
}
