package sequences

import (
	"context"
	"time"

	"leadpulse_backend/internal/events"
	"leadpulse_backend/platform/apperr"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
)

// RunStore persists sequence runs. Satisfied by sequences.Repository.
type RunStore interface {
	// ActiveRun returns the lead's active run for a sequence, nil when none.
	ActiveRun(ctx context.Context, leadID uuid.UUID, sequenceID string) (*Run, error)
	CreateRun(ctx context.Context, run *Run) error
	// ActiveRuns returns every active run, freshly read so cancellations
	// issued since the last tick are visible.
	ActiveRuns(ctx context.Context) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
}

// ActivityChecker answers branch conditions from the engagement log.
type ActivityChecker interface {
	// Responded reports whether the lead sent a DM after since.
	Responded(ctx context.Context, leadID uuid.UUID, since time.Time) (bool, error)
	// EngagedAgain reports whether any engagement arrived after since.
	EngagedAgain(ctx context.Context, leadID uuid.UUID, since time.Time) (bool, error)
}

// StepSender delivers one sequence step. Implementations render the
// template and route through the safety governor.
type StepSender interface {
	SendStep(ctx context.Context, run *Run, templateID string) error
}

// Catalog resolves sequence definitions from tenant configuration.
type Catalog interface {
	Sequence(id string) (Sequence, bool)
}

// Sequencer advances sequence runs. All time comes in through the now
// parameters.
type Sequencer struct {
	store    RunStore
	activity ActivityChecker
	sender   StepSender
	catalog  Catalog
	bus      events.Bus
	log      *logger.Logger
}

// NewSequencer wires a sequencer over its collaborators.
func NewSequencer(store RunStore, activity ActivityChecker, sender StepSender, catalog Catalog, bus events.Bus, log *logger.Logger) *Sequencer {
	return &Sequencer{store: store, activity: activity, sender: sender, catalog: catalog, bus: bus, log: log}
}

// Enroll starts a run at step 0. A lead already actively enrolled in the
// sequence is not re-enrolled; the existing run is returned unchanged.
func (s *Sequencer) Enroll(ctx context.Context, leadID, tenantID uuid.UUID, sequenceID string, now time.Time) (*Run, error) {
	seq, ok := s.catalog.Sequence(sequenceID)
	if !ok {
		return nil, apperr.NotFound("sequence not found")
	}
	if !seq.IsActive {
		return nil, apperr.Validation("sequence is not active")
	}

	existing, err := s.store.ActiveRun(ctx, leadID, sequenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	run := &Run{
		ID:         uuid.New(),
		SequenceID: sequenceID,
		LeadID:     leadID,
		TenantID:   tenantID,
		Status:     RunActive,
		NextStep:   0,
		EnrolledAt: now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Cancel ends the lead's active run in a sequence, for example when the
// lead converts. The cancellation is visible to the next Tick because runs
// are re-read there.
func (s *Sequencer) Cancel(ctx context.Context, leadID uuid.UUID, sequenceID string, now time.Time) error {
	run, err := s.store.ActiveRun(ctx, leadID, sequenceID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	s.end(run, RunCancelled, now)
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	s.publish(ctx, run, "cancelled")
	return nil
}

// CancelAll ends every active run for a lead.
func (s *Sequencer) CancelAll(ctx context.Context, leadID uuid.UUID, now time.Time) error {
	runs, err := s.store.ActiveRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run.LeadID != leadID {
			continue
		}
		s.end(run, RunCancelled, now)
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return err
		}
		s.publish(ctx, run, "cancelled")
	}
	return nil
}

// Tick advances every run whose next step is due at now. One run's failure
// never blocks the others; the first error is returned after the full pass.
func (s *Sequencer) Tick(ctx context.Context, now time.Time) error {
	runs, err := s.store.ActiveRuns(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, run := range runs {
		if err := s.advance(ctx, run, now); err != nil {
			if s.log != nil {
				s.log.PipelineError("sequence_tick", run.LeadID.String(), err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// advance sends the run's next step if due. Before sending, the branch
// condition of the previously sent step is evaluated over the window since
// its send; an explicit branch that does not match terminates the run.
func (s *Sequencer) advance(ctx context.Context, run *Run, now time.Time) error {
	seq, ok := s.catalog.Sequence(run.SequenceID)
	if !ok || !seq.IsActive {
		// Definition removed or deactivated since enrollment.
		s.end(run, RunCancelled, now)
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return err
		}
		s.publish(ctx, run, "sequence_inactive")
		return nil
	}

	if run.NextStep >= len(seq.Steps) {
		s.end(run, RunCompleted, now)
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return err
		}
		s.publish(ctx, run, "completed")
		return nil
	}

	if now.Before(run.DueAt(seq)) {
		return nil
	}

	if run.LastSentAt != nil {
		proceed, err := s.branchAllows(ctx, seq.Steps[run.NextStep-1].Branch, run, now)
		if err != nil {
			return err
		}
		if !proceed {
			s.end(run, RunTerminated, now)
			if err := s.store.UpdateRun(ctx, run); err != nil {
				return err
			}
			s.publish(ctx, run, "branch_mismatch")
			return nil
		}
	}

	step := seq.Steps[run.NextStep]
	if err := s.sender.SendStep(ctx, run, step.TemplateID); err != nil {
		// Left active: the step stays due and is retried next tick.
		return err
	}

	sent := now
	run.LastSentAt = &sent
	run.NextStep++
	run.UpdatedAt = now
	if run.NextStep >= len(seq.Steps) {
		s.end(run, RunCompleted, now)
	}
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	outcome := "step_sent"
	if run.Status == RunCompleted {
		outcome = "completed"
	}
	s.publish(ctx, run, outcome)
	return nil
}

// branchAllows evaluates a sent step's branch over (LastSentAt, now).
func (s *Sequencer) branchAllows(ctx context.Context, branch Branch, run *Run, _ time.Time) (bool, error) {
	since := *run.LastSentAt
	switch branch {
	case BranchNone:
		return true, nil
	case BranchNoResponse:
		responded, err := s.activity.Responded(ctx, run.LeadID, since)
		return !responded, err
	case BranchResponded:
		return s.activity.Responded(ctx, run.LeadID, since)
	case BranchEngagedAgain:
		return s.activity.EngagedAgain(ctx, run.LeadID, since)
	}
	return false, nil
}

func (s *Sequencer) end(run *Run, status RunStatus, now time.Time) {
	run.Status = status
	ended := now
	run.EndedAt = &ended
	run.UpdatedAt = now
}

func (s *Sequencer) publish(ctx context.Context, run *Run, outcome string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.SequenceRunAdvanced{
		BaseEvent:  events.NewBaseEvent(),
		RunID:      run.ID,
		SequenceID: run.SequenceID,
		LeadID:     run.LeadID,
		TenantID:   run.TenantID,
		Step:       run.NextStep,
		Terminal:   run.Status != RunActive,
		Outcome:    outcome,
	})
}
