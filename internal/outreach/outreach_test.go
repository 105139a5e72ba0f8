package outreach

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadpulse_backend/internal/governor"
	"leadpulse_backend/internal/leads/domain"

	"github.com/google/uuid"
)

func TestTemplateRender(t *testing.T) {
	tpl := Template{
		ID:      "t1",
		Message: "Hey {{name}} (@{{username}}), loved your take on {{content_title}}!",
	}
	got := tpl.Render(Vars{Name: "Jane", Username: "janevlogs", ContentTitle: "Q2 trends"})
	want := "Hey Jane (@janevlogs), loved your take on Q2 trends!"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestTemplateRenderLeavesUnknownPlaceholders(t *testing.T) {
	tpl := Template{ID: "t1", Message: "Hi {{name}}, use code {{coupon}}"}
	got := tpl.Render(Vars{Name: "Jane"})
	if got != "Hi Jane, use code {{coupon}}" {
		t.Fatalf("Render = %q", got)
	}
}

func TestVarsForLeadFallsBackToUsername(t *testing.T) {
	lead := &domain.Lead{ID: uuid.New()}
	profile := &domain.SocialProfile{Username: "janevlogs"}
	v := VarsForLead(lead, profile, "")
	if v.Name != "janevlogs" {
		t.Fatalf("Name = %q, want username fallback", v.Name)
	}
}

// flakySender fails a configurable number of attempts before succeeding.
type flakySender struct {
	failures  int
	attempts  int
	permanent bool
}

func (f *flakySender) Send(context.Context, governor.Action, string) (string, error) {
	f.attempts++
	if f.attempts <= f.failures {
		err := errors.New("connection reset")
		if f.permanent {
			return "", Permanent(err)
		}
		return "", err
	}
	return "ext-123", nil
}

type memDeadLetters struct {
	buried []string
}

func (m *memDeadLetters) Add(_ context.Context, _ governor.Action, reason string, _ time.Time) error {
	m.buried = append(m.buried, reason)
	return nil
}

func newTestDispatcher(sender ChannelSender, dl DeadLetterStore) *Dispatcher {
	d := NewDispatcher(map[governor.Channel]ChannelSender{governor.ChannelDM: sender},
		1000, time.Second, dl, nil, nil)
	d.retryDelay = time.Millisecond
	return d
}

func dmAction() governor.Action {
	return governor.Action{ID: uuid.New(), LeadID: uuid.New(), TenantID: uuid.New(), Channel: governor.ChannelDM}
}

func TestDispatchRetriesTransientFailureOnce(t *testing.T) {
	sender := &flakySender{failures: 1}
	dl := &memDeadLetters{}
	d := newTestDispatcher(sender, dl)

	if err := d.Dispatch(context.Background(), dmAction(), "jane"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.attempts != 2 {
		t.Fatalf("attempts = %d, want 2", sender.attempts)
	}
	if len(dl.buried) != 0 {
		t.Fatal("successful retry was dead-lettered")
	}
}

func TestDispatchDeadLettersAfterRetry(t *testing.T) {
	sender := &flakySender{failures: 10}
	dl := &memDeadLetters{}
	d := newTestDispatcher(sender, dl)

	if err := d.Dispatch(context.Background(), dmAction(), "jane"); err == nil {
		t.Fatal("expected dispatch error")
	}
	if sender.attempts != 2 {
		t.Fatalf("attempts = %d, want exactly 2 (one retry)", sender.attempts)
	}
	if len(dl.buried) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dl.buried))
	}
}

func TestDispatchPermanentFailureSkipsRetry(t *testing.T) {
	sender := &flakySender{failures: 10, permanent: true}
	dl := &memDeadLetters{}
	d := newTestDispatcher(sender, dl)

	if err := d.Dispatch(context.Background(), dmAction(), "jane"); err == nil {
		t.Fatal("expected dispatch error")
	}
	if sender.attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for a permanent failure", sender.attempts)
	}
	if len(dl.buried) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dl.buried))
	}
}

func TestDispatchUnknownChannelDeadLetters(t *testing.T) {
	dl := &memDeadLetters{}
	d := newTestDispatcher(&flakySender{}, dl)

	action := dmAction()
	action.Channel = governor.ChannelSMS
	if err := d.Dispatch(context.Background(), action, "+14155552671"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
	if len(dl.buried) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dl.buried))
	}
}
