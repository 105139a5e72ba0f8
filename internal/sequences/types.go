// Package sequences runs multi-step, delayed, conditional-branch outreach
// sequences. Time enters only through the explicit now parameter on Tick,
// never through the wall clock, so advancement is deterministic under test.
package sequences

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Branch is the closed set of step branch conditions, evaluated over the
// lead's activity between a step's send and the next step's due time.
type Branch string

const (
	// BranchNone continues unconditionally.
	BranchNone Branch = ""
	// BranchNoResponse continues only while the lead has not responded.
	BranchNoResponse Branch = "no_response"
	// BranchResponded continues only if the lead responded.
	BranchResponded Branch = "responded"
	// BranchEngagedAgain continues only if any new engagement arrived.
	BranchEngagedAgain Branch = "engaged_again"
)

// Step is one outreach step in a sequence.
type Step struct {
	Order      int    `yaml:"order" json:"order"`
	DelayDays  int    `yaml:"delayDays" json:"delayDays"`
	TemplateID string `yaml:"templateId" json:"templateId"`
	Branch     Branch `yaml:"branch,omitempty" json:"branch,omitempty"`
}

// Sequence is a tenant-configured outreach sequence definition.
type Sequence struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	IsActive bool   `yaml:"isActive" json:"isActive"`
	Steps    []Step `yaml:"steps" json:"steps"`
}

// Validate rejects malformed sequence definitions at config load time.
func (s Sequence) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("sequence without id")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence %s: no steps", s.ID)
	}
	for i, step := range s.Steps {
		if step.Order != i {
			return fmt.Errorf("sequence %s: step %d has order %d", s.ID, i, step.Order)
		}
		if step.TemplateID == "" {
			return fmt.Errorf("sequence %s: step %d without templateId", s.ID, i)
		}
		if step.DelayDays < 0 {
			return fmt.Errorf("sequence %s: step %d has negative delay", s.ID, i)
		}
		switch step.Branch {
		case BranchNone, BranchNoResponse, BranchResponded, BranchEngagedAgain:
		default:
			return fmt.Errorf("sequence %s: step %d has unsupported branch %q", s.ID, i, step.Branch)
		}
	}
	return nil
}

// RunStatus is the lifecycle state of a sequence run.
type RunStatus string

const (
	RunActive     RunStatus = "active"
	RunCompleted  RunStatus = "completed"
	RunCancelled  RunStatus = "cancelled"
	RunTerminated RunStatus = "terminated" // branch condition mismatch
)

// Run is one lead's progress through a sequence. NextStep indexes the step
// that has not been sent yet; LastSentAt anchors branch evaluation windows.
type Run struct {
	ID         uuid.UUID
	SequenceID string
	LeadID     uuid.UUID
	TenantID   uuid.UUID
	Status     RunStatus
	NextStep   int
	EnrolledAt time.Time
	LastSentAt *time.Time
	EndedAt    *time.Time
	UpdatedAt  time.Time
}

// DueAt returns when the run's next step becomes sendable: the first step
// is due DelayDays after enrollment, later steps DelayDays after the
// previous send.
func (r *Run) DueAt(seq Sequence) time.Time {
	step := seq.Steps[r.NextStep]
	anchor := r.EnrolledAt
	if r.LastSentAt != nil {
		anchor = *r.LastSentAt
	}
	return anchor.Add(time.Duration(step.DelayDays) * 24 * time.Hour)
}

// Stats is the aggregate view of one sequence exposed to the dashboard.
type Stats struct {
	SequenceID      string  `json:"sequenceId"`
	LeadsInSequence int     `json:"leadsInSequence"`
	CompletionRate  float64 `json:"completionRate"`
	ResponseRate    float64 `json:"responseRate"`
}
