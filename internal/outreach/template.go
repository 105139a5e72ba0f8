// Package outreach renders message templates and dispatches outbound
// actions through channel senders, with pacing, retry, and dead-lettering.
package outreach

import (
	"fmt"
	"strings"

	"leadpulse_backend/internal/leads/domain"
)

// Template is a tenant-configured outreach message with {{var}} placeholders.
type Template struct {
	ID        string          `yaml:"id" json:"id"`
	Platform  domain.Platform `yaml:"platform,omitempty" json:"platform,omitempty"`
	Channel   string          `yaml:"channel" json:"channel"`
	Subject   string          `yaml:"subject,omitempty" json:"subject,omitempty"`
	Message   string          `yaml:"message" json:"message"`
	DelayDays int             `yaml:"delayDays,omitempty" json:"delayDays,omitempty"`
	IsActive  bool            `yaml:"isActive" json:"isActive"`
}

// Validate rejects malformed templates at config load time.
func (t Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template without id")
	}
	if t.Message == "" {
		return fmt.Errorf("template %s: empty message", t.ID)
	}
	if t.Platform != "" && !domain.KnownPlatforms[t.Platform] {
		return fmt.Errorf("template %s: unknown platform %q", t.ID, t.Platform)
	}
	return nil
}

// Vars holds the values substituted into a template at render time.
type Vars struct {
	Name         string
	Username     string
	ContentTitle string
}

// VarsForLead builds render vars from a lead and its primary profile. The
// display name falls back to the username so {{name}} never renders empty.
func VarsForLead(lead *domain.Lead, profile *domain.SocialProfile, contentTitle string) Vars {
	v := Vars{ContentTitle: contentTitle}
	if profile != nil {
		v.Name = profile.DisplayName
		v.Username = profile.Username
	}
	if v.Name == "" {
		v.Name = v.Username
	}
	return v
}

// Render substitutes {{name}}, {{username}}, and {{content_title}}.
// Unknown placeholders are left verbatim so misconfigured templates are
// visible in the sent message rather than silently blanked.
func (t Template) Render(vars Vars) string {
	return strings.NewReplacer(
		"{{name}}", vars.Name,
		"{{username}}", vars.Username,
		"{{content_title}}", vars.ContentTitle,
	).Replace(t.Message)
}
