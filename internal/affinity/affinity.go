// Package affinity — per-Talk, per-intent learning of which tools the model
// actually uses. Observations are appended to the Talk's affinity log; a
// sliding-window snapshot drives a warmup/learned/exploration phase machine
// that prunes the offered tool set and shortens timeouts once usage settles.
package affinity

import (
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Phase is the state of the learner for one (Talk, intent).
type Phase string

const (
	PhaseWarmup      Phase = "warmup"
	PhaseLearned     Phase = "learned"
	PhaseExploration Phase = "exploration"
)

// Defaults, overridable via CLAWTALK_AFFINITY_* env vars.
const (
	DefaultWindowSize      = 50
	DefaultWarmupThreshold = 3
	DefaultExplorationRate = 20
	DefaultMinThreshold    = 0.1
)

// coldStartIntents get an empty learned set (or the provided baseline)
// instead of a warmup flood.
var coldStartIntents = map[string]bool{
	"study":          true,
	"state_tracking": true,
	"conversation":   true,
	"model_meta":     true,
}

// Config tunes the learner.
type Config struct {
	Enabled         bool
	WindowSize      int
	WarmupThreshold int
	ExplorationRate int     // exploration probability is 1/ExplorationRate
	MinThreshold    float64 // minimum usage ratio to keep a tool
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		WindowSize:      DefaultWindowSize,
		WarmupThreshold: DefaultWarmupThreshold,
		ExplorationRate: DefaultExplorationRate,
		MinThreshold:    DefaultMinThreshold,
	}
}

// ConfigFromEnv returns the default config overlaid with env overrides.
func ConfigFromEnv() Config {
	return DefaultConfig().ApplyEnv()
}

// ApplyEnv overlays CLAWTALK_AFFINITY_* env vars, which win over file
// values.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("CLAWTALK_AFFINITY_ENABLED"); v != "" {
		c.Enabled = v != "0" && !strings.EqualFold(v, "false")
	}
	if n, err := strconv.Atoi(os.Getenv("CLAWTALK_AFFINITY_WINDOW")); err == nil && n > 0 {
		c.WindowSize = n
	}
	if n, err := strconv.Atoi(os.Getenv("CLAWTALK_AFFINITY_WARMUP")); err == nil && n > 0 {
		c.WarmupThreshold = n
	}
	if n, err := strconv.Atoi(os.Getenv("CLAWTALK_AFFINITY_EXPLORATION_RATE")); err == nil && n > 0 {
		c.ExplorationRate = n
	}
	if f, err := strconv.ParseFloat(os.Getenv("CLAWTALK_AFFINITY_MIN_THRESHOLD"), 64); err == nil && f > 0 {
		c.MinThreshold = f
	}
	return c
}

// Observation records one job/agent run: what was offered and what got used.
type Observation struct {
	Timestamp      int64    `json:"timestamp"`
	Intent         string   `json:"intent"`
	AvailableTools []string `json:"availableTools"`
	UsedTools      []string `json:"usedTools"`
	ToolsOffered   int      `json:"toolsOffered"`
	Model          string   `json:"model,omitempty"`
	Source         string   `json:"source,omitempty"`
}

// IntentStats is the windowed aggregate for one intent.
type IntentStats struct {
	TotalObservations int            `json:"totalObservations"`
	NoToolCount       int            `json:"noToolCount"`
	ToolCounts        map[string]int `json:"toolCounts"`
}

// Snapshot is the per-Talk aggregate, grouped by intent.
type Snapshot struct {
	Intents map[string]*IntentStats `json:"intents"`
}

// Selection is the learner's answer for one run.
type Selection struct {
	Phase         Phase    `json:"phase"`
	SelectedTools []string `json:"selectedTools"`
	PrunedTools   []string `json:"prunedTools"`
	Reason        string   `json:"reason"`
}

// ColdStartInput feeds ComputeColdStartBaseline.
type ColdStartInput struct {
	StateBackend       string // "stream_store", "workspace_files" or empty
	PolicyAllowedTools []string
}

// ComputeColdStartBaseline seeds state tools for stream-backed Talks before
// any data exists. Workspace-file backends get no baseline.
func ComputeColdStartBaseline(in ColdStartInput) []string {
	if in.StateBackend == "workspace_files" {
		return nil
	}
	var out []string
	for _, t := range in.PolicyAllowedTools {
		if strings.HasPrefix(strings.ToLower(t), "state_") {
			out = append(out, t)
		}
	}
	return out
}

// ComputeTimeout derives the effective run timeout from the phase and
// selected tool count. Learned runs shrink toward a floor of one minute
// plus twenty seconds per tool, clamped to [minMs, baseMs]; warmup and
// exploration always use the full base timeout.
func ComputeTimeout(phase Phase, toolCount int, baseMs, minMs int64) int64 {
	if phase != PhaseLearned {
		return baseMs
	}
	t := int64(60_000) + int64(20_000)*int64(toolCount)
	if t < minMs {
		t = minMs
	}
	if t > baseMs {
		t = baseMs
	}
	return t
}

// registry is the process-wide store map keyed by data dir.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*Store)
)

// Open returns the Store for a data dir, creating it on first use.
func Open(dataDir string, cfg Config) *Store {
	registryMu.Lock()
	defer registryMu.Unlock()
	if s, ok := registry[dataDir]; ok {
		return s
	}
	s := &Store{
		dataDir: dataDir,
		cfg:     cfg,
		cache:   make(map[string]snapshotEntry),
		randF:   rand.Float64,
	}
	registry[dataDir] = s
	return s
}
