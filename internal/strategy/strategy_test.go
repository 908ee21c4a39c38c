package strategy

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"signal-systemv1/internal/condition"
	"signal-systemv1/internal/model"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// oneRuleEvaluator builds an evaluator where each section passes iff the
// variant named after the section has value 1.
func oneRuleEvaluator() *condition.Evaluator {
	rules := make(map[model.Section][]model.ConditionRule)
	for _, s := range model.Sections() {
		rules[s] = []model.ConditionRule{
			{VariantID: string(s), Op: model.OpGE, Threshold: 1, Weight: 1},
		}
	}
	return condition.New(rules, nil, quietLogger())
}

// passing builds a snapshot where exactly the given sections pass.
func passing(sections ...model.Section) model.Snapshot {
	snap := make(model.Snapshot)
	now := time.Now().UTC()
	for _, s := range model.Sections() {
		snap[string(s)] = model.IndicatorValue{VariantID: string(s), TS: now}
	}
	for _, s := range sections {
		snap[string(s)] = model.IndicatorValue{VariantID: string(s), Value: 1, TS: now}
	}
	return snap
}

func TestInstance_FullLifecycle(t *testing.T) {
	now := time.Now().UTC()
	in := NewInstance("s1", "BTCUSDT", oneRuleEvaluator(), now)

	steps := []struct {
		pass      model.Section
		wantState model.State
		wantHops  int
	}{
		{model.SectionSignalDetect, model.StateSignalDetected, 1},
		{model.SectionEntry, model.StatePositionActive, 2}, // via ENTRY_EVALUATION
		{model.SectionClose, model.StateExited, 2},         // via CLOSE_ORDER_EVALUATION
	}
	for _, st := range steps {
		events := in.Step(passing(st.pass), now)
		if len(events) != st.wantHops {
			t.Fatalf("trigger %s: expected %d transition events, got %d", st.pass, st.wantHops, len(events))
		}
		if state, _ := in.State(); state != st.wantState {
			t.Fatalf("trigger %s: expected state %s, got %s", st.pass, st.wantState, state)
		}
	}

	// EXITED is terminal for the cycle: nothing passes anymore.
	if events := in.Step(passing(model.SectionSignalDetect), now); events != nil {
		t.Errorf("expected no transitions from EXITED, got %v", events)
	}

	// A new cycle re-enters MONITORING.
	if !in.Reactivate(now) {
		t.Fatal("expected reactivation from EXITED")
	}
	if state, _ := in.State(); state != model.StateMonitoring {
		t.Errorf("expected MONITORING after reactivation, got %s", state)
	}
}

func TestInstance_CancelPathReturnsToMonitoring(t *testing.T) {
	now := time.Now().UTC()
	in := NewInstance("s1", "BTCUSDT", oneRuleEvaluator(), now)

	in.Step(passing(model.SectionSignalDetect), now)
	events := in.Step(passing(model.SectionCancel), now)

	if len(events) != 2 {
		t.Fatalf("expected SIGNAL_CANCELLED then MONITORING, got %d events", len(events))
	}
	if events[0].To != model.StateSignalCancelled || events[1].To != model.StateMonitoring {
		t.Errorf("unexpected cancel chain: %s → %s", events[0].To, events[1].To)
	}
	if state, _ := in.State(); state != model.StateMonitoring {
		t.Errorf("expected MONITORING after cancel, got %s", state)
	}
}

func TestInstance_NoShortcutToPositionActive(t *testing.T) {
	now := time.Now().UTC()
	in := NewInstance("s1", "BTCUSDT", oneRuleEvaluator(), now)

	// From MONITORING, only SIGNAL_DETECTED is reachable.
	if _, err := in.Apply(model.SectionEntry, condition.Result{}, now); !errors.Is(err, ErrTransitionRejected) {
		t.Errorf("expected entry rejected from MONITORING, got %v", err)
	}
	if state, _ := in.State(); state != model.StateMonitoring {
		t.Errorf("rejected trigger must leave state unchanged, got %s", state)
	}

	// Passing entry from SIGNAL_DETECTED must route through ENTRY_EVALUATION.
	in.Step(passing(model.SectionSignalDetect), now)
	events := in.Step(passing(model.SectionEntry), now)
	if len(events) != 2 || events[0].To != model.StateEntryEval || events[1].To != model.StatePositionActive {
		t.Fatalf("expected SIGNAL_DETECTED → ENTRY_EVALUATION → POSITION_ACTIVE, got %+v", events)
	}
}

func TestInstance_EmergencyExitPreemptsClose(t *testing.T) {
	now := time.Now().UTC()
	in := NewInstance("s1", "BTCUSDT", oneRuleEvaluator(), now)
	in.Step(passing(model.SectionSignalDetect), now)
	in.Step(passing(model.SectionEntry), now)

	// Both close and emergency-exit pass; fixed order picks emergency-exit.
	events := in.Step(passing(model.SectionClose, model.SectionEmergencyExit), now)
	if len(events) == 0 || events[0].To != model.StateEmergencyExit {
		t.Fatalf("expected EMERGENCY_EXIT to pre-empt close, got %+v", events)
	}
	if state, _ := in.State(); state != model.StateExited {
		t.Errorf("expected EXITED, got %s", state)
	}
}

func TestInstance_SignalDetectBelowThresholdHolds(t *testing.T) {
	rules := map[model.Section][]model.ConditionRule{
		model.SectionSignalDetect: {
			{VariantID: "a", Op: model.OpGE, Threshold: 1, Weight: 1},
			{VariantID: "b", Op: model.OpGE, Threshold: 1, Weight: 1},
		},
	}
	ev := condition.New(rules, map[model.Section]float64{model.SectionSignalDetect: 0.8}, quietLogger())
	now := time.Now().UTC()
	in := NewInstance("s1", "BTCUSDT", ev, now)

	// Confidence 0.5 < 0.8: must hold in MONITORING.
	snap := model.Snapshot{
		"a": {VariantID: "a", Value: 1, TS: now},
		"b": {VariantID: "b", Value: 0, TS: now},
	}
	if events := in.Step(snap, now); events != nil {
		t.Errorf("expected no transition below threshold, got %v", events)
	}
	if state, _ := in.State(); state != model.StateMonitoring {
		t.Errorf("expected MONITORING, got %s", state)
	}
}

func TestManager_ActivateStepPublish(t *testing.T) {
	var mu sync.Mutex
	var published []model.TransitionEvent
	m := NewManager(quietLogger(), func(ev model.TransitionEvent) {
		mu.Lock()
		published = append(published, ev)
		mu.Unlock()
	})

	rules := make(map[model.Section][]model.ConditionRule)
	for _, s := range model.Sections() {
		rules[s] = []model.ConditionRule{{VariantID: string(s), Op: model.OpGE, Threshold: 1, Weight: 1}}
	}
	now := time.Now().UTC()
	m.Activate(Config{ID: "s1", Symbols: []string{"BTCUSDT", "ETHUSDT"}, Rules: rules}, now)

	m.OnIndicatorUpdate("BTCUSDT", passing(model.SectionSignalDetect), now)

	in, ok := m.Instance("s1", "BTCUSDT")
	if !ok {
		t.Fatal("expected instance for (s1, BTCUSDT)")
	}
	if state, _ := in.State(); state != model.StateSignalDetected {
		t.Errorf("expected SIGNAL_DETECTED, got %s", state)
	}

	// The other symbol's instance is untouched.
	other, _ := m.Instance("s1", "ETHUSDT")
	if state, _ := other.State(); state != model.StateMonitoring {
		t.Errorf("expected untouched ETHUSDT instance, got %s", state)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 {
		t.Fatalf("expected 1 published transition, got %d", len(published))
	}
	if published[0].Trigger != model.SectionSignalDetect || published[0].To != model.StateSignalDetected {
		t.Errorf("unexpected published event: %+v", published[0])
	}
	if len(published[0].RuleEvaluations) == 0 {
		t.Error("expected rule evaluations attached to the transition event")
	}
}

func TestManager_ConcurrentInstancesIndependent(t *testing.T) {
	m := NewManager(quietLogger(), nil)
	rules := make(map[model.Section][]model.ConditionRule)
	for _, s := range model.Sections() {
		rules[s] = []model.ConditionRule{{VariantID: string(s), Op: model.OpGE, Threshold: 1, Weight: 1}}
	}
	now := time.Now().UTC()

	symbols := make([]string, 8)
	for i := range symbols {
		symbols[i] = "SYM" + string(rune('A'+i))
	}
	m.Activate(Config{ID: "s1", Symbols: symbols, Rules: rules}, now)

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			m.OnIndicatorUpdate(sym, passing(model.SectionSignalDetect), now)
			m.OnIndicatorUpdate(sym, passing(model.SectionEntry), now)
		}(sym)
	}
	wg.Wait()

	for _, sym := range symbols {
		in, _ := m.Instance("s1", sym)
		if state, _ := in.State(); state != model.StatePositionActive {
			t.Errorf("%s: expected POSITION_ACTIVE, got %s", sym, state)
		}
	}
}

func TestManager_Deactivate(t *testing.T) {
	m := NewManager(quietLogger(), nil)
	now := time.Now().UTC()
	m.Activate(Config{ID: "s1", Symbols: []string{"BTCUSDT"}}, now)
	m.Deactivate("s1")

	if _, ok := m.Instance("s1", "BTCUSDT"); ok {
		t.Error("expected instance destroyed on deactivation")
	}
	if err := m.Trigger("s1", "BTCUSDT", model.SectionSignalDetect, condition.Result{}, now); err == nil {
		t.Error("expected trigger against destroyed instance to fail")
	}
}
