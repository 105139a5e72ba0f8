// Package tenantcfg loads per-tenant automation configuration from YAML
// files: rules, sequences, templates, and the safety governor policy.
package tenantcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"leadpulse_backend/internal/automation"
	"leadpulse_backend/internal/governor"
	"leadpulse_backend/internal/outreach"
	"leadpulse_backend/internal/sequences"
	"leadpulse_backend/platform/config"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of one tenant's configuration. The file name
// (without extension) must be the tenant's uuid.
type File struct {
	AutomationMode governor.Mode `yaml:"automationMode"`
	Limits         struct {
		WindowHours int                      `yaml:"windowHours"`
		DefaultCap  int                      `yaml:"defaultCap"`
		ChannelCaps map[governor.Channel]int `yaml:"channelCaps"`
	} `yaml:"limits"`
	Rules     []*automation.Rule   `yaml:"rules"`
	Sequences []sequences.Sequence `yaml:"sequences"`
	Templates []outreach.Template  `yaml:"templates"`
}

// Tenant is one tenant's validated configuration.
type Tenant struct {
	ID     uuid.UUID
	Policy governor.Policy
	Rules  []*automation.Rule
}

// Provider serves tenant configuration loaded at startup. Sequence and
// template ids are namespaced per file on load, so the flat lookup maps
// stay collision-free across tenants.
type Provider struct {
	tenants       map[uuid.UUID]*Tenant
	sequences     map[string]sequences.Sequence
	templates     map[string]outreach.Template
	defaultPolicy governor.Policy
}

// Load reads every *.yaml file in dir. Invalid definitions fail the load;
// a half-configured tenant is worse than a startup error.
func Load(dir string, defaults config.GovernorConfig) (*Provider, error) {
	p := &Provider{
		tenants:   make(map[uuid.UUID]*Tenant),
		sequences: make(map[string]sequences.Sequence),
		templates: make(map[string]outreach.Template),
		defaultPolicy: governor.Policy{
			Mode:       governor.ModeAutonomous,
			Window:     defaults.GetOutreachWindow(),
			DefaultCap: defaults.GetDefaultChannelCap(),
		},
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		if err := p.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) loadFile(path string) error {
	tenantID, err := uuid.Parse(strings.TrimSuffix(filepath.Base(path), ".yaml"))
	if err != nil {
		return fmt.Errorf("tenant config %s: file name is not a tenant id: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("tenant config %s: %w", path, err)
	}
	return p.register(tenantID, file)
}

func (p *Provider) register(tenantID uuid.UUID, file File) error {
	policy := p.defaultPolicy
	if file.AutomationMode != "" {
		if file.AutomationMode != governor.ModeAutonomous && file.AutomationMode != governor.ModeApproval {
			return fmt.Errorf("tenant %s: unsupported automation mode %q", tenantID, file.AutomationMode)
		}
		policy.Mode = file.AutomationMode
	}
	if file.Limits.WindowHours > 0 {
		policy.Window = time.Duration(file.Limits.WindowHours) * time.Hour
	}
	if file.Limits.DefaultCap > 0 {
		policy.DefaultCap = file.Limits.DefaultCap
	}
	if len(file.Limits.ChannelCaps) > 0 {
		policy.ChannelCaps = file.Limits.ChannelCaps
	}

	for _, rule := range file.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
	}
	for _, seq := range file.Sequences {
		if err := seq.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		if _, exists := p.sequences[seq.ID]; exists {
			return fmt.Errorf("tenant %s: duplicate sequence id %q", tenantID, seq.ID)
		}
		p.sequences[seq.ID] = seq
	}
	for _, tpl := range file.Templates {
		if err := tpl.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		if _, exists := p.templates[tpl.ID]; exists {
			return fmt.Errorf("tenant %s: duplicate template id %q", tenantID, tpl.ID)
		}
		p.templates[tpl.ID] = tpl
	}

	p.tenants[tenantID] = &Tenant{ID: tenantID, Policy: policy, Rules: file.Rules}
	return nil
}

// Policy returns the tenant's governor policy, or the environment defaults
// for unknown tenants.
func (p *Provider) Policy(tenantID uuid.UUID) governor.Policy {
	if t, ok := p.tenants[tenantID]; ok {
		return t.Policy
	}
	return p.defaultPolicy
}

// Rules returns the tenant's automation rules.
func (p *Provider) Rules(tenantID uuid.UUID) []*automation.Rule {
	if t, ok := p.tenants[tenantID]; ok {
		return t.Rules
	}
	return nil
}

// AllRules returns every loaded rule across tenants.
func (p *Provider) AllRules() []*automation.Rule {
	var all []*automation.Rule
	for _, t := range p.tenants {
		all = append(all, t.Rules...)
	}
	return all
}

// Tenants returns every configured tenant id.
func (p *Provider) Tenants() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.tenants))
	for id := range p.tenants {
		ids = append(ids, id)
	}
	return ids
}

// Sequence resolves a sequence definition by id.
func (p *Provider) Sequence(id string) (sequences.Sequence, bool) {
	seq, ok := p.sequences[id]
	return seq, ok
}

// Template resolves a template definition by id.
func (p *Provider) Template(id string) (outreach.Template, bool) {
	tpl, ok := p.templates[id]
	return tpl, ok
}
