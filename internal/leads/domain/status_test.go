package domain

import "testing"

func TestEvaluateScore_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		current LeadStatus
		score   float64
		want    []LeadStatus
	}{
		{"cold stays cold below warm", StatusCold, 29.9, nil},
		{"cold to warm at threshold", StatusCold, 30, []LeadStatus{StatusWarm}},
		{"cold to hot cascades through warm", StatusCold, 75, []LeadStatus{StatusWarm, StatusHot}},
		{"warm to hot at threshold", StatusWarm, 70, []LeadStatus{StatusHot}},
		{"warm back to cold", StatusWarm, 10, []LeadStatus{StatusCold}},
		{"hot holds between thresholds", StatusHot, 50, nil},
		{"hot demotes below warm threshold", StatusHot, 29, []LeadStatus{StatusWarm, StatusCold}},
		{"customer never moves by score", StatusCustomer, 0, nil},
		{"churned never moves by score", StatusChurned, 95, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateScore(tc.current, tc.score, DefaultThresholds)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d transitions, got %d (%v)", len(tc.want), len(got), got)
			}
			for i, want := range tc.want {
				if got[i].To != want {
					t.Errorf("transition %d: expected %s, got %s", i, want, got[i].To)
				}
				if got[i].Reason != ReasonScore {
					t.Errorf("transition %d: expected score reason, got %s", i, got[i].Reason)
				}
			}
		})
	}
}

func TestEvaluateScore_Idempotent(t *testing.T) {
	// After applying the transitions once, re-evaluating with the same score
	// must yield nothing.
	transitions := EvaluateScore(StatusCold, 80, DefaultThresholds)
	if len(transitions) == 0 {
		t.Fatal("expected at least one transition")
	}
	final := transitions[len(transitions)-1].To

	if again := EvaluateScore(final, 80, DefaultThresholds); len(again) != 0 {
		t.Fatalf("re-evaluation produced transitions: %v", again)
	}
}

func TestConvert_OnlyPathToCustomer(t *testing.T) {
	// Score alone never reaches customer.
	for _, status := range []LeadStatus{StatusCold, StatusWarm, StatusHot} {
		for _, tr := range EvaluateScore(status, 100, DefaultThresholds) {
			if tr.To == StatusCustomer {
				t.Fatalf("score evaluation from %s reached customer", status)
			}
		}
	}

	// Explicit conversion works from any state, including churned.
	for _, status := range []LeadStatus{StatusCold, StatusWarm, StatusHot, StatusChurned} {
		tr, ok := Convert(status)
		if !ok || tr.To != StatusCustomer {
			t.Fatalf("convert from %s: expected customer transition, got %v ok=%v", status, tr, ok)
		}
	}

	// Converting twice is a no-op.
	if _, ok := Convert(StatusCustomer); ok {
		t.Fatal("converting a customer should be a no-op")
	}
}

func TestChurn_ReachableWithoutCustomer(t *testing.T) {
	tr, ok := Churn(StatusWarm, ReasonInactivity)
	if !ok || tr.To != StatusChurned {
		t.Fatalf("expected warm lead to churn, got %v ok=%v", tr, ok)
	}

	// Customers do not churn via the inactivity sweep.
	if _, ok := Churn(StatusCustomer, ReasonInactivity); ok {
		t.Fatal("customer should not churn on inactivity")
	}

	// Churning twice is a no-op.
	if _, ok := Churn(StatusChurned, ReasonInactivity); ok {
		t.Fatal("churned lead should not churn again")
	}
}

func TestReenter_OnlyFromChurned(t *testing.T) {
	tr, ok := Reenter(StatusChurned)
	if !ok || tr.To != StatusCold || tr.Reason != ReasonReentry {
		t.Fatalf("expected churned lead to re-enter cold, got %v ok=%v", tr, ok)
	}

	for _, status := range []LeadStatus{StatusCold, StatusWarm, StatusHot, StatusCustomer} {
		if _, ok := Reenter(status); ok {
			t.Fatalf("re-entry from %s should be impossible", status)
		}
	}
}
