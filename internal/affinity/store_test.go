package affinity

import (
	"reflect"
	"testing"
)

func newTestAffinity(t *testing.T) *Store {
	t.Helper()
	s := Open(t.TempDir(), DefaultConfig())
	s.randF = func() float64 { return 1.0 } // never explore unless a test wants it
	return s
}

func observe(t *testing.T, s *Store, talkID, intent string, used []string) {
	t.Helper()
	if err := s.Observe(talkID, Observation{Intent: intent, UsedTools: used, AvailableTools: []string{"web_search", "file_read", "state_append_event"}}); err != nil {
		t.Fatal(err)
	}
}

func TestSelect_WarmupBeforeThreshold(t *testing.T) {
	s := newTestAffinity(t)
	allowed := []string{"web_search", "file_read"}

	sel := s.Select("t1", "advice", allowed, nil)
	if sel.Phase != PhaseWarmup {
		t.Fatalf("phase = %q, want warmup", sel.Phase)
	}
	if !reflect.DeepEqual(sel.SelectedTools, allowed) {
		t.Errorf("warmup must offer everything: %v", sel.SelectedTools)
	}

	// One observation is still below W=3; a single no-tool run must not
	// collapse the offering.
	observe(t, s, "t1", "advice", nil)
	sel = s.Select("t1", "advice", allowed, nil)
	if sel.Phase != PhaseWarmup {
		t.Fatalf("phase after 1 obs = %q, want warmup", sel.Phase)
	}
	if !reflect.DeepEqual(sel.SelectedTools, allowed) {
		t.Errorf("no-tool observation collapsed the set: %v", sel.SelectedTools)
	}
}

func TestSelect_LearnedPrunesByThreshold(t *testing.T) {
	s := newTestAffinity(t)
	allowed := []string{"web_search", "file_read", "shell_exec"}

	// 10 observations: web_search used every time, file_read never,
	// shell_exec once (10% exactly meets θ=0.1).
	for i := 0; i < 10; i++ {
		used := []string{"web_search"}
		if i == 0 {
			used = append(used, "shell_exec")
		}
		observe(t, s, "t1", "web_research", used)
	}

	sel := s.Select("t1", "web_research", allowed, nil)
	if sel.Phase != PhaseLearned {
		t.Fatalf("phase = %q (%s), want learned", sel.Phase, sel.Reason)
	}
	if !reflect.DeepEqual(sel.SelectedTools, []string{"web_search", "shell_exec"}) {
		t.Errorf("selected = %v", sel.SelectedTools)
	}
	if !reflect.DeepEqual(sel.PrunedTools, []string{"file_read"}) {
		t.Errorf("pruned = %v", sel.PrunedTools)
	}
}

func TestSelect_ColdStartBaselineWinsBelowWarmup(t *testing.T) {
	s := newTestAffinity(t)
	allowed := []string{"web_search", "state_append_event", "state_read_summary"}
	baseline := []string{"state_append_event", "state_read_summary"}

	// state_tracking is a cold-start intent: with zero data and a
	// baseline, the baseline is offered instead of the warmup flood.
	sel := s.Select("t1", "state_tracking", allowed, baseline)
	if sel.Phase != PhaseLearned {
		t.Fatalf("phase = %q (%s), want learned", sel.Phase, sel.Reason)
	}
	if !reflect.DeepEqual(sel.SelectedTools, baseline) {
		t.Errorf("selected = %v, want baseline %v", sel.SelectedTools, baseline)
	}
}

func TestSelect_BaselineSurvivesSingleNoToolObservation(t *testing.T) {
	s := newTestAffinity(t)
	allowed := []string{"web_search", "state_append_event", "state_read_summary"}
	baseline := []string{"state_append_event", "state_read_summary"}

	// One observation that used nothing: with the window still below W=3,
	// the baseline wins instead of the empty learned set.
	observe(t, s, "t1", "state_tracking", nil)
	sel := s.Select("t1", "state_tracking", allowed, baseline)
	if sel.Phase != PhaseLearned {
		t.Fatalf("phase = %q (%s), want learned", sel.Phase, sel.Reason)
	}
	if !reflect.DeepEqual(sel.SelectedTools, baseline) {
		t.Errorf("selected = %v, want baseline %v", sel.SelectedTools, baseline)
	}
}

func TestSelect_ColdIntentNoBaselineGetsNothing(t *testing.T) {
	s := newTestAffinity(t)
	sel := s.Select("t1", "conversation", []string{"web_search"}, nil)
	if sel.Phase != PhaseLearned {
		t.Fatalf("phase = %q, want learned", sel.Phase)
	}
	if len(sel.SelectedTools) != 0 {
		t.Errorf("cold intent without baseline offered tools: %v", sel.SelectedTools)
	}
}

func TestSelect_LearnedOverridesBaselineOnceCovered(t *testing.T) {
	s := newTestAffinity(t)
	allowed := []string{"web_search", "state_append_event"}
	baseline := []string{"state_append_event"}

	for i := 0; i < 5; i++ {
		observe(t, s, "t1", "state_tracking", []string{"web_search"})
	}
	sel := s.Select("t1", "state_tracking", allowed, baseline)
	if sel.Phase != PhaseLearned {
		t.Fatalf("phase = %q", sel.Phase)
	}
	if !reflect.DeepEqual(sel.SelectedTools, []string{"web_search"}) {
		t.Errorf("learned data should beat the baseline: %v", sel.SelectedTools)
	}
}

func TestSelect_ExplorationRoll(t *testing.T) {
	s := newTestAffinity(t)
	s.randF = func() float64 { return 0.0 } // always explore
	allowed := []string{"web_search", "file_read"}

	for i := 0; i < 5; i++ {
		observe(t, s, "t1", "advice", []string{"web_search"})
	}
	sel := s.Select("t1", "advice", allowed, nil)
	if sel.Phase != PhaseExploration {
		t.Fatalf("phase = %q, want exploration", sel.Phase)
	}
	if !reflect.DeepEqual(sel.SelectedTools, allowed) {
		t.Errorf("exploration must offer the full set: %v", sel.SelectedTools)
	}
}

func TestSelect_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	s := Open(t.TempDir(), cfg)

	sel := s.Select("t1", "conversation", []string{"web_search"}, nil)
	if sel.Phase != PhaseWarmup || len(sel.SelectedTools) != 1 {
		t.Errorf("disabled learner must pass tools through: %+v", sel)
	}
}

func TestSnapshot_WindowSlides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 5
	s := Open(t.TempDir(), cfg)
	s.randF = func() float64 { return 1.0 }

	// 8 old observations using file_read, then 5 using web_search: only
	// the last 5 are inside the window.
	for i := 0; i < 8; i++ {
		observe(t, s, "t1", "advice", []string{"file_read"})
	}
	for i := 0; i < 5; i++ {
		observe(t, s, "t1", "advice", []string{"web_search"})
	}

	snap, err := s.SnapshotFor("t1")
	if err != nil {
		t.Fatal(err)
	}
	stats := snap.Intents["advice"]
	if stats == nil || stats.TotalObservations != 5 {
		t.Fatalf("window stats = %+v", stats)
	}
	if stats.ToolCounts["file_read"] != 0 || stats.ToolCounts["web_search"] != 5 {
		t.Errorf("tool counts = %v", stats.ToolCounts)
	}
}

func TestComputeColdStartBaseline(t *testing.T) {
	allowed := []string{"state_append_event", "web_search", "State_Read_Summary"}
	got := ComputeColdStartBaseline(ColdStartInput{PolicyAllowedTools: allowed})
	want := []string{"state_append_event", "State_Read_Summary"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("baseline = %v, want %v", got, want)
	}

	if got := ComputeColdStartBaseline(ColdStartInput{StateBackend: "workspace_files", PolicyAllowedTools: allowed}); got != nil {
		t.Errorf("workspace_files backend must get no baseline: %v", got)
	}
}

func TestComputeTimeout(t *testing.T) {
	const base, min = 240_000, 120_000
	tests := []struct {
		name  string
		phase Phase
		tools int
		want  int64
	}{
		{"warmup uses base", PhaseWarmup, 2, base},
		{"exploration uses base", PhaseExploration, 2, base},
		{"learned small set clamps to min", PhaseLearned, 1, min},
		{"learned mid set", PhaseLearned, 4, 140_000},
		{"learned large set clamps to base", PhaseLearned, 20, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeTimeout(tt.phase, tt.tools, base, min); got != tt.want {
				t.Errorf("ComputeTimeout = %d, want %d", got, tt.want)
			}
		})
	}
}
