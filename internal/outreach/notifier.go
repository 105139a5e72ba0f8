package outreach

import (
	"context"
	"errors"
	"fmt"

	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/platform/config"

	mail "github.com/wneessen/go-mail"
)

// TeamNotifier emails rule-triggered notifications to the configured team
// address. Notifications are best-effort and never gated by the governor;
// they go to the operator, not the lead.
type TeamNotifier struct {
	cfg config.EmailConfig
}

// NewTeamNotifier creates an SMTP-backed team notifier.
func NewTeamNotifier(cfg config.EmailConfig) *TeamNotifier {
	return &TeamNotifier{cfg: cfg}
}

// NotifyTeam sends one notification email about a lead.
func (n *TeamNotifier) NotifyTeam(ctx context.Context, lead *domain.Lead, message string) error {
	addr := n.cfg.GetTeamNotifyAddress()
	if addr == "" {
		return errors.New("no team notification address configured")
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.GetEmailFromAddress()); err != nil {
		return err
	}
	if err := msg.To(addr); err != nil {
		return err
	}
	msg.Subject(fmt.Sprintf("Lead alert: %s lead on %s", lead.Status, lead.PrimaryPlatform))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf("%s\n\nLead: %s\nScore: %.1f\nStatus: %s\n", message, lead.ID, lead.Score, lead.Status))

	client, err := mail.NewClient(n.cfg.GetSMTPHost(),
		mail.WithPort(n.cfg.GetSMTPPort()),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.GetSMTPUsername()),
		mail.WithPassword(n.cfg.GetSMTPPassword()),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.DialAndSendWithContext(ctx, msg)
}
