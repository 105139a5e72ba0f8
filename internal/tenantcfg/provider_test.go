package tenantcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"leadpulse_backend/internal/governor"

	"github.com/google/uuid"
)

type fakeDefaults struct{}

func (fakeDefaults) GetOutreachWindow() time.Duration { return 7 * 24 * time.Hour }
func (fakeDefaults) GetDefaultChannelCap() int        { return 5 }

const tenantYAML = `
automationMode: approval
limits:
  windowHours: 72
  defaultCap: 3
  channelCaps:
    sms: 1
rules:
  - id: hot-follow-up
    name: Follow up on hot leads
    isActive: true
    priority: 10
    trigger:
      kind: status_change
      toStatus: hot
    actions:
      - kind: send_dm
        templateId: t-hot
      - kind: add_tag
        tag: hot-lead
sequences:
  - id: welcome
    name: Welcome flow
    isActive: true
    steps:
      - order: 0
        delayDays: 0
        templateId: t-intro
      - order: 1
        delayDays: 3
        templateId: t-followup
        branch: no_response
templates:
  - id: t-intro
    channel: dm
    message: "Hey {{name}}, thanks for the follow!"
    isActive: true
  - id: t-followup
    channel: dm
    message: "Still around, {{username}}?"
    isActive: true
  - id: t-hot
    channel: dm
    message: "Loved your comment on {{content_title}}"
    isActive: true
`

func writeTenantFile(t *testing.T, dir string, tenantID uuid.UUID, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, tenantID.String()+".yaml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadTenantConfig(t *testing.T) {
	dir := t.TempDir()
	tenantID := uuid.New()
	writeTenantFile(t, dir, tenantID, tenantYAML)

	p, err := Load(dir, fakeDefaults{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	policy := p.Policy(tenantID)
	if policy.Mode != governor.ModeApproval {
		t.Fatalf("mode = %s, want approval", policy.Mode)
	}
	if policy.Window != 72*time.Hour {
		t.Fatalf("window = %s, want 72h", policy.Window)
	}
	if policy.Cap(governor.ChannelSMS) != 1 || policy.Cap(governor.ChannelEmail) != 3 {
		t.Fatalf("caps = sms:%d email:%d", policy.Cap(governor.ChannelSMS), policy.Cap(governor.ChannelEmail))
	}

	rules := p.Rules(tenantID)
	if len(rules) != 1 || rules[0].ID != "hot-follow-up" || len(rules[0].Actions) != 2 {
		t.Fatalf("rules = %+v", rules)
	}

	seq, ok := p.Sequence("welcome")
	if !ok || len(seq.Steps) != 2 || seq.Steps[1].Branch != "no_response" {
		t.Fatalf("sequence = %+v ok=%v", seq, ok)
	}
	if _, ok := p.Template("t-hot"); !ok {
		t.Fatal("template t-hot missing")
	}
}

func TestUnknownTenantGetsDefaults(t *testing.T) {
	p, err := Load(t.TempDir(), fakeDefaults{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	policy := p.Policy(uuid.New())
	if policy.Mode != governor.ModeAutonomous {
		t.Fatalf("mode = %s, want autonomous default", policy.Mode)
	}
	if policy.DefaultCap != 5 || policy.Window != 7*24*time.Hour {
		t.Fatalf("policy = %+v", policy)
	}
}

func TestLoadRejectsInvalidRule(t *testing.T) {
	dir := t.TempDir()
	writeTenantFile(t, dir, uuid.New(), `
rules:
  - id: broken
    isActive: true
    trigger:
      kind: webhook
    actions:
      - kind: add_tag
        tag: x
`)
	if _, err := Load(dir, fakeDefaults{}); err == nil {
		t.Fatal("expected error for unsupported trigger kind")
	}
}

func TestLoadRejectsNonUUIDFileName(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.yaml"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, fakeDefaults{}); err == nil {
		t.Fatal("expected error for non-uuid file name")
	}
}

func TestMissingDirectoryIsEmptyProvider(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "absent"), fakeDefaults{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Tenants()) != 0 {
		t.Fatal("expected no tenants")
	}
}
