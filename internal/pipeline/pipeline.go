// Package pipeline processes accepted engagements through scoring, status
// evaluation, and rule execution. Work is partitioned by lead id so every
// mutation of one lead runs on a single goroutine, which is what makes the
// read-modify-write of score and counters safe without row locking.
package pipeline

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"leadpulse_backend/internal/automation"
	"leadpulse_backend/internal/events"
	"leadpulse_backend/internal/leads/domain"
	"leadpulse_backend/internal/leads/scoring"
	"leadpulse_backend/platform/config"
	"leadpulse_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// LeadStore is the pipeline's view of lead persistence. Satisfied by the
// leads repository.
type LeadStore interface {
	Lead(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error)
	SaveLead(ctx context.Context, lead *domain.Lead) error
	AddTag(ctx context.Context, leadID uuid.UUID, tag string) error
}

// RuleProvider hands out the active rule set per tenant. Satisfied by
// tenantcfg.Provider.
type RuleProvider interface {
	Rules(tenantID uuid.UUID) []*automation.Rule
}

// task is one unit of per-lead work. done receives the outcome exactly once.
type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Pipeline is the per-lead processing engine behind the ingestor. It
// implements ingest.Forwarder.
type Pipeline struct {
	store      LeadStore
	model      scoring.Model
	thresholds domain.Thresholds
	rules      RuleProvider
	fireLog    automation.FireLog
	bus        events.Bus
	log        *logger.Logger
	executor   automation.Executor
	now        func() time.Time

	partitions []chan task
	group      *errgroup.Group

	mu      sync.Mutex
	engines map[uuid.UUID]*automation.Engine
}

// New builds the pipeline. Call SetExecutor before Start; the executor is
// injected separately because it depends on outreach and sequencing, which
// are wired after the pipeline at the composition root.
func New(store LeadStore, model scoring.Model, thresholds domain.Thresholds, rules RuleProvider, fireLog automation.FireLog, bus events.Bus, cfg config.PipelineConfig, log *logger.Logger) *Pipeline {
	n := cfg.GetPipelinePartitions()
	if n < 1 {
		n = 4
	}
	partitions := make([]chan task, n)
	for i := range partitions {
		partitions[i] = make(chan task, 64)
	}
	return &Pipeline{
		store:      store,
		model:      model,
		thresholds: thresholds,
		rules:      rules,
		fireLog:    fireLog,
		bus:        bus,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		partitions: partitions,
		engines:    make(map[uuid.UUID]*automation.Engine),
	}
}

// SetExecutor installs the rule action executor.
func (p *Pipeline) SetExecutor(exec automation.Executor) {
	p.executor = exec
}

// Start launches one worker per partition. Workers drain their queue on
// context cancellation before exiting.
func (p *Pipeline) Start(ctx context.Context) {
	group, _ := errgroup.WithContext(ctx)
	p.group = group
	for _, partition := range p.partitions {
		ch := partition
		group.Go(func() error {
			for t := range ch {
				t.done <- t.fn(t.ctx)
			}
			return nil
		})
	}
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (p *Pipeline) Close() error {
	for _, ch := range p.partitions {
		close(ch)
	}
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

// submit runs fn on the lead's partition and waits for the result, so
// callers observe the state their operation produced.
func (p *Pipeline) submit(ctx context.Context, leadID uuid.UUID, fn func(ctx context.Context) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	h := fnv.New32a()
	h.Write(leadID[:])
	select {
	case p.partitions[int(h.Sum32())%len(p.partitions)] <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forward processes one freshly stored engagement. Implements
// ingest.Forwarder.
func (p *Pipeline) Forward(ctx context.Context, tenantID uuid.UUID, engagement *domain.Engagement, leadCreated bool) error {
	return p.submit(ctx, engagement.LeadID, func(ctx context.Context) error {
		return p.process(ctx, tenantID, engagement, leadCreated)
	})
}

// Convert marks a lead as customer. Customer is terminal for score-driven
// transitions; only an explicit conversion enters it.
func (p *Pipeline) Convert(ctx context.Context, leadID uuid.UUID) (*domain.Lead, error) {
	return p.transition(ctx, leadID, func(current domain.LeadStatus) (domain.Transition, bool) {
		return domain.Convert(current)
	})
}

// Churn archives a lead, either manually or from the inactivity sweep.
func (p *Pipeline) Churn(ctx context.Context, leadID uuid.UUID, reason domain.TransitionReason) (*domain.Lead, error) {
	return p.transition(ctx, leadID, func(current domain.LeadStatus) (domain.Transition, bool) {
		return domain.Churn(current, reason)
	})
}

func (p *Pipeline) transition(ctx context.Context, leadID uuid.UUID, decide func(domain.LeadStatus) (domain.Transition, bool)) (*domain.Lead, error) {
	var result *domain.Lead
	err := p.submit(ctx, leadID, func(ctx context.Context) error {
		lead, err := p.store.Lead(ctx, leadID)
		if err != nil {
			return err
		}
		tr, ok := decide(lead.Status)
		if !ok {
			result = lead
			return nil
		}
		if err := p.applyTransitions(ctx, lead, []domain.Transition{tr}, ""); err != nil {
			return err
		}
		result = lead
		return nil
	})
	return result, err
}

// process folds one engagement into the lead and runs every downstream
// stage. The caller guarantees the engagement was stored exactly once.
func (p *Pipeline) process(ctx context.Context, tenantID uuid.UUID, e *domain.Engagement, leadCreated bool) error {
	now := p.now()
	lead, err := p.store.Lead(ctx, e.LeadID)
	if err != nil {
		p.log.PipelineError("load_lead", e.LeadID.String(), err)
		return err
	}

	previous := lead.Score
	lead.Score = p.model.Apply(previous, lead.LastEngagedAt, *e)

	if lead.CountersByType == nil {
		lead.CountersByType = make(map[domain.EngagementType]int64)
	}
	if lead.CountersByOrigin == nil {
		lead.CountersByOrigin = make(map[domain.Platform]int64)
	}
	lead.CountersByType[e.Type]++
	lead.CountersByOrigin[e.Platform]++
	if lead.FirstEngagedAt == nil {
		at := e.OccurredAt
		lead.FirstEngagedAt = &at
	}
	if lead.LastEngagedAt == nil || e.OccurredAt.After(*lead.LastEngagedAt) {
		at := e.OccurredAt
		lead.LastEngagedAt = &at
	}

	// Platforms tag topical content in event metadata; collect it as the
	// lead's interest profile.
	if topic := e.Metadata["topic"]; topic != "" && !slices.Contains(lead.Interests, topic) {
		lead.Interests = append(lead.Interests, topic)
	}

	var transitions []domain.Transition
	if tr, ok := domain.Reenter(lead.Status); ok {
		transitions = append(transitions, tr)
		lead.Status = tr.To
	}
	scoreTransitions := domain.EvaluateScore(lead.Status, lead.Score, p.thresholds)
	transitions = append(transitions, scoreTransitions...)
	if len(scoreTransitions) > 0 {
		lead.Status = scoreTransitions[len(scoreTransitions)-1].To
	}

	lead.Touch(now)
	if err := p.store.SaveLead(ctx, lead); err != nil {
		p.log.PipelineError("save_lead", lead.ID.String(), err)
		return err
	}

	p.bus.Publish(ctx, events.LeadScoreUpdated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  tenantID,
		Previous:  previous,
		Score:     lead.Score,
	})
	for _, tr := range transitions {
		p.publishTransition(ctx, lead, tenantID, tr)
	}
	if e.Type == domain.EngagementDM {
		p.bus.Publish(ctx, events.DirectMessageReceived{
			BaseEvent:    events.NewBaseEvent(),
			EngagementID: e.ID,
			LeadID:       lead.ID,
			TenantID:     tenantID,
			Platform:     e.Platform,
			Message:      e.Message,
		})
	}
	p.bus.Publish(ctx, events.EngagementRecorded{
		BaseEvent:    events.NewBaseEvent(),
		EngagementID: e.ID,
		LeadID:       lead.ID,
		TenantID:     tenantID,
		Type:         e.Type,
		Platform:     e.Platform,
		Sentiment:    e.Sentiment,
		ContentID:    e.ContentID,
		ContentTitle: e.ContentTitle,
		OccurredTime: e.OccurredAt,
	})

	engine := p.engineFor(tenantID)
	p.evaluate(ctx, engine, automation.Input{Kind: automation.EventEngagement, Lead: lead, Engagement: e}, now)
	if e.Type == domain.EngagementDM {
		p.evaluate(ctx, engine, automation.Input{Kind: automation.EventDMReceived, Lead: lead, Engagement: e}, now)
	}
	for _, tr := range transitions {
		p.evaluate(ctx, engine, automation.Input{Kind: automation.EventStatusChange, Lead: lead, From: tr.From, To: tr.To}, now)
	}
	return nil
}

// applyTransitions persists the transitions and runs status-change rules.
// originRuleID stamps rule-produced transitions so a rule never triggers
// on an event caused by its own action.
func (p *Pipeline) applyTransitions(ctx context.Context, lead *domain.Lead, transitions []domain.Transition, originRuleID string) error {
	if len(transitions) == 0 {
		return nil
	}
	lead.Status = transitions[len(transitions)-1].To
	lead.Touch(p.now())
	if err := p.store.SaveLead(ctx, lead); err != nil {
		return err
	}
	engine := p.engineFor(lead.TenantID)
	for _, tr := range transitions {
		p.publishTransition(ctx, lead, lead.TenantID, tr)
		p.evaluate(ctx, engine, automation.Input{
			Kind:         automation.EventStatusChange,
			Lead:         lead,
			From:         tr.From,
			To:           tr.To,
			OriginRuleID: originRuleID,
		}, p.now())
	}
	return nil
}

func (p *Pipeline) publishTransition(ctx context.Context, lead *domain.Lead, tenantID uuid.UUID, tr domain.Transition) {
	p.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  tenantID,
		From:      tr.From,
		To:        tr.To,
		Reason:    tr.Reason,
		Score:     lead.Score,
	})
}

func (p *Pipeline) evaluate(ctx context.Context, engine *automation.Engine, in automation.Input, now time.Time) {
	if engine == nil {
		return
	}
	if _, err := engine.Evaluate(ctx, in, now); err != nil {
		p.log.PipelineError("rule_evaluation", in.Lead.ID.String(), err)
	}
}

// engineFor returns the tenant's rule engine, building it on first use so
// rule trigger counters accumulate across events.
func (p *Pipeline) engineFor(tenantID uuid.UUID) *automation.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if engine, ok := p.engines[tenantID]; ok {
		return engine
	}
	rules := p.rules.Rules(tenantID)
	if len(rules) == 0 {
		p.engines[tenantID] = nil
		return nil
	}
	engine := automation.NewEngine(rules, p.executor, p.fireLog, p.log)
	p.engines[tenantID] = engine
	return engine
}
