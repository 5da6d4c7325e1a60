package affinity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	observationsFile = "observations.jsonl"
	snapshotFile     = "snapshot.json"
	snapshotCacheTTL = 60 * time.Second
)

type snapshotEntry struct {
	snap     *Snapshot
	loadedAt time.Time
}

// Store persists observations per Talk and serves cached snapshots.
// One Store per data dir; obtain it via Open.
type Store struct {
	dataDir string
	cfg     Config

	mu    sync.Mutex
	cache map[string]snapshotEntry

	randF func() float64 // exploration roll, overridable in tests
}

func (s *Store) talkDir(talkID string) string {
	return filepath.Join(s.dataDir, "talks", talkID, "affinity")
}

// Observe appends one observation and invalidates the Talk's snapshot cache.
func (s *Store) Observe(talkID string, obs Observation) error {
	if obs.Timestamp == 0 {
		obs.Timestamp = time.Now().UnixMilli()
	}
	if obs.ToolsOffered == 0 {
		obs.ToolsOffered = len(obs.AvailableTools)
	}
	dir := s.talkDir(talkID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(obs)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, observationsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	s.mu.Lock()
	delete(s.cache, talkID)
	s.mu.Unlock()
	return nil
}

// SnapshotFor returns the windowed per-intent aggregate for a Talk,
// cached for one minute. The snapshot is also written to snapshot.json
// for debugging; that write is best-effort.
func (s *Store) SnapshotFor(talkID string) (*Snapshot, error) {
	s.mu.Lock()
	if e, ok := s.cache[talkID]; ok && time.Since(e.loadedAt) < snapshotCacheTTL {
		s.mu.Unlock()
		return e.snap, nil
	}
	s.mu.Unlock()

	snap, err := s.buildSnapshot(talkID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[talkID] = snapshotEntry{snap: snap, loadedAt: time.Now()}
	s.mu.Unlock()

	if data, err := json.MarshalIndent(snap, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(s.talkDir(talkID), snapshotFile), data, 0o644); err != nil {
			slog.Warn("affinity.snapshot_write_failed", "talk", talkID, "error", err)
		}
	}
	return snap, nil
}

func (s *Store) buildSnapshot(talkID string) (*Snapshot, error) {
	snap := &Snapshot{Intents: make(map[string]*IntentStats)}
	data, err := os.ReadFile(filepath.Join(s.talkDir(talkID), observationsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return nil, err
	}

	byIntent := make(map[string][]Observation)
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var obs Observation
		if err := json.Unmarshal(line, &obs); err != nil {
			slog.Warn("affinity.corrupt_observation", "talk", talkID, "error", err)
			continue
		}
		byIntent[obs.Intent] = append(byIntent[obs.Intent], obs)
	}

	for intent, list := range byIntent {
		if len(list) > s.cfg.WindowSize {
			list = list[len(list)-s.cfg.WindowSize:]
		}
		stats := &IntentStats{ToolCounts: make(map[string]int)}
		for _, obs := range list {
			stats.TotalObservations++
			if len(obs.UsedTools) == 0 {
				stats.NoToolCount++
			}
			for _, t := range obs.UsedTools {
				stats.ToolCounts[strings.ToLower(t)]++
			}
		}
		snap.Intents[intent] = stats
	}
	return snap, nil
}

// Select runs the phase machine for one (Talk, intent) and returns the tool
// subset to offer. policyAllowed is the policy-filtered tool set;
// coldStartBaseline may be nil.
func (s *Store) Select(talkID, intent string, policyAllowed, coldStartBaseline []string) Selection {
	if !s.cfg.Enabled {
		return Selection{Phase: PhaseWarmup, SelectedTools: policyAllowed, Reason: "affinity disabled"}
	}

	snap, err := s.SnapshotFor(talkID)
	if err != nil {
		slog.Warn("affinity.snapshot_failed", "talk", talkID, "error", err)
		return Selection{Phase: PhaseWarmup, SelectedTools: policyAllowed, Reason: "snapshot unavailable"}
	}
	var total int
	var stats *IntentStats
	if st, ok := snap.Intents[intent]; ok {
		stats = st
		total = st.TotalObservations
	}

	warm := s.cfg.WarmupThreshold
	cold := coldStartIntents[intent]

	if total < warm && !cold && len(coldStartBaseline) == 0 {
		return Selection{
			Phase:         PhaseWarmup,
			SelectedTools: policyAllowed,
			Reason:        fmt.Sprintf("warmup %d/%d", total, warm),
		}
	}

	if s.cfg.ExplorationRate > 0 && s.randF() < 1.0/float64(s.cfg.ExplorationRate) {
		return Selection{
			Phase:         PhaseExploration,
			SelectedTools: policyAllowed,
			Reason:        fmt.Sprintf("exploration roll 1/%d", s.cfg.ExplorationRate),
		}
	}

	// Learned branch. The threshold selection only kicks in once the
	// window has real coverage; before that a provided baseline wins, so a
	// single no-tool observation cannot collapse the set to nothing.
	switch {
	case stats != nil && total >= warm:
		var selected []string
		for _, t := range policyAllowed {
			if float64(stats.ToolCounts[strings.ToLower(t)])/float64(total) >= s.cfg.MinThreshold {
				selected = append(selected, t)
			}
		}
		return learnedSelection(policyAllowed, selected,
			fmt.Sprintf("learned from %d observations", total))
	case len(coldStartBaseline) > 0:
		base := make(map[string]bool, len(coldStartBaseline))
		for _, t := range coldStartBaseline {
			base[strings.ToLower(t)] = true
		}
		var selected []string
		for _, t := range policyAllowed {
			if base[strings.ToLower(t)] {
				selected = append(selected, t)
			}
		}
		return learnedSelection(policyAllowed, selected,
			fmt.Sprintf("cold-start baseline=%d", len(selected)))
	case cold:
		return learnedSelection(policyAllowed, nil, "cold-start intent, no baseline")
	default:
		return Selection{
			Phase:         PhaseWarmup,
			SelectedTools: policyAllowed,
			Reason:        "no data, no baseline",
		}
	}
}

func learnedSelection(policyAllowed, selected []string, reason string) Selection {
	keep := make(map[string]bool, len(selected))
	for _, t := range selected {
		keep[strings.ToLower(t)] = true
	}
	var pruned []string
	for _, t := range policyAllowed {
		if !keep[strings.ToLower(t)] {
			pruned = append(pruned, t)
		}
	}
	sort.Strings(pruned)
	return Selection{Phase: PhaseLearned, SelectedTools: selected, PrunedTools: pruned, Reason: reason}
}
