package talks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const (
	talkFile    = "talk.json"
	historyFile = "history.jsonl"
	reportsFile = "reports.jsonl"
	contextFile = "context.md"
	dirPerm     = 0o755
	filePerm    = 0o644
)

// ErrNotFound is returned for unknown Talk or message ids.
var ErrNotFound = errors.New("talk not found")

// Listener receives change events. Failures are isolated: a panicking
// listener never breaks the mutation that triggered it.
type Listener func(ChangeEvent)

// Store is the durable, process-local Talk store. All mutations go through
// it; it is the only writer to the talks directory.
type Store struct {
	root string // <dataDir>/talks

	mu        sync.RWMutex
	talks     map[string]*Talk
	listCache []*Talk // memoized List() result, nil when invalid

	listenerMu sync.Mutex
	listeners  map[string]Listener

	ctxMu    sync.Mutex
	ctxCache map[string]contextEntry
	ctxTTL   int64 // ms
}

// NewStore opens the store rooted at dataDir, loading every Talk directory.
// Stale processing flags left by a previous run are cleared.
func NewStore(dataDir string) (*Store, error) {
	root := filepath.Join(dataDir, "talks")
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create talks dir: %w", err)
	}
	s := &Store{
		root:      root,
		talks:     make(map[string]*Talk),
		listeners: make(map[string]Listener),
		ctxCache:  make(map[string]contextEntry),
		ctxTTL:    contextCacheTTLMillis,
	}
	stale, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	if stale > 0 {
		slog.Warn("talks.stale_processing_cleared", "count", stale)
	}
	return s, nil
}

func (s *Store) loadAll() (stale int, err error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read talks dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !ValidTalkID(e.Name()) {
			continue
		}
		path := filepath.Join(s.root, e.Name(), talkFile)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("talks.load_failed", "talk", e.Name(), "error", err)
			}
			continue
		}
		var t Talk
		if err := json.Unmarshal(data, &t); err != nil {
			slog.Warn("talks.corrupt_metadata", "talk", e.Name(), "error", err)
			continue
		}
		t.ID = e.Name()
		normalizeTalk(&t)
		if t.Processing {
			t.Processing = false
			stale++
			if err := s.persist(&t); err != nil {
				slog.Warn("talks.persist_failed", "talk", t.ID, "error", err)
			}
		}
		s.talks[t.ID] = &t
	}
	return stale, nil
}

func (s *Store) dir(id string) string { return filepath.Join(s.root, id) }

// persist writes talk.json atomically. Rename is the commit point.
func (s *Store) persist(t *Talk) error {
	dir := s.dir(t.ID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(dir, talkFile, data)
}

// writeFileAtomic writes name under dir via temp-file-then-rename.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// bump advances the optimistic-concurrency triple, persists talk.json and
// publishes a change event. Callers must hold s.mu.
func (s *Store) bump(t *Talk, eventType, modifiedBy string) error {
	now := NowMillis()
	t.TalkVersion++
	t.ChangeID = uuid.NewString()
	t.LastModifiedAt = now
	t.LastModifiedBy = modifiedBy
	t.UpdatedAt = now
	s.listCache = nil
	if err := s.persist(t); err != nil {
		return err
	}
	s.emit(ChangeEvent{
		Type:           eventType,
		TalkID:         t.ID,
		TalkVersion:    t.TalkVersion,
		ChangeID:       t.ChangeID,
		Timestamp:      now,
		LastModifiedBy: modifiedBy,
	})
	return nil
}

// Subscribe registers a change listener under id, replacing any previous one.
func (s *Store) Subscribe(id string, l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners[id] = l
}

// Unsubscribe removes a listener.
func (s *Store) Unsubscribe(id string) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	delete(s.listeners, id)
}

func (s *Store) emit(ev ChangeEvent) {
	s.listenerMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenerMu.Unlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("talks.listener_panic", "talk", ev.TalkID, "panic", r)
				}
			}()
			l(ev)
		}()
	}
}

// Create makes a new Talk, optionally seeded with a model.
func (s *Store) Create(model string) (*Talk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := NowMillis()
	t := &Talk{
		ID:               uuid.NewString(),
		TalkVersion:      1,
		ChangeID:         uuid.NewString(),
		Model:            model,
		ExecutionMode:    ExecOpenClaw,
		FilesystemAccess: FSWorkspaceSandbox,
		NetworkAccess:    NetRestricted,
		ToolMode:         ToolsConfirm,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.persist(t); err != nil {
		return nil, err
	}
	s.talks[t.ID] = t
	s.listCache = nil
	s.emit(ChangeEvent{Type: "created", TalkID: t.ID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: now})
	return t.clone(), nil
}

// Get returns a copy of the Talk, or ErrNotFound.
func (s *Store) Get(id string) (*Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.talks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.clone(), nil
}

// List returns all Talks sorted by updatedAt desc. The result is memoized
// and invalidated by any mutation.
func (s *Store) List() []*Talk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listCache == nil {
		out := make([]*Talk, 0, len(s.talks))
		for _, t := range s.talks {
			out = append(out, t.clone())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
		s.listCache = out
	}
	return s.listCache
}

// Patch is the whitelist of mutable Talk fields. Nil fields are untouched.
type Patch struct {
	TopicTitle        *string
	Objective         *string
	Model             *string
	GoogleAuthProfile *string
	Agents            *[]AgentSpec
	Directives        *[]Directive
	PlatformBindings  *[]Binding
	PlatformBehaviors *[]Behavior
	ToolMode          *string
	ExecutionMode     *string
	FilesystemAccess  *string
	NetworkAccess     *string
	ToolsAllow        *[]string
	ToolsDeny         *[]string
}

// Update applies a patch through the whitelist, re-normalizes, bumps the
// version and publishes the change.
func (s *Store) Update(id string, p Patch, modifiedBy string) (*Talk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.TopicTitle != nil {
		t.TopicTitle = *p.TopicTitle
	}
	if p.Objective != nil {
		t.Objective = *p.Objective
	}
	if p.Model != nil {
		t.Model = *p.Model
	}
	if p.GoogleAuthProfile != nil {
		t.GoogleAuthProfile = *p.GoogleAuthProfile
	}
	if p.Agents != nil {
		t.Agents = *p.Agents
	}
	if p.Directives != nil {
		t.Directives = *p.Directives
	}
	if p.PlatformBindings != nil {
		t.PlatformBindings = *p.PlatformBindings
	}
	if p.PlatformBehaviors != nil {
		t.PlatformBehaviors = *p.PlatformBehaviors
	}
	if p.ToolMode != nil {
		t.ToolMode = ToolMode(*p.ToolMode)
	}
	if p.ExecutionMode != nil {
		t.ExecutionMode = ExecutionMode(*p.ExecutionMode)
	}
	if p.FilesystemAccess != nil {
		t.FilesystemAccess = FilesystemAccess(*p.FilesystemAccess)
	}
	if p.NetworkAccess != nil {
		t.NetworkAccess = NetworkAccess(*p.NetworkAccess)
	}
	if p.ToolsAllow != nil {
		t.ToolsAllow = *p.ToolsAllow
	}
	if p.ToolsDeny != nil {
		t.ToolsDeny = *p.ToolsDeny
	}
	normalizeTalk(t)
	if err := s.bump(t, "updated", modifiedBy); err != nil {
		return nil, err
	}
	return t.clone(), nil
}

// Delete removes the Talk and its directory. The directory removal commits
// first so a deleted Talk never re-emerges after restart.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return fmt.Errorf("delete talk dir: %w", err)
	}
	delete(s.talks, id)
	s.listCache = nil
	s.ctxMu.Lock()
	delete(s.ctxCache, id)
	s.ctxMu.Unlock()
	s.emit(ChangeEvent{Type: "deleted", TalkID: id, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: NowMillis()})
	return nil
}

// SetProcessing flips the transient processing hint. No version bump, no
// change event.
func (s *Store) SetProcessing(id string, processing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Processing == processing {
		return nil
	}
	t.Processing = processing
	if err := s.persist(t); err != nil {
		slog.Warn("talks.persist_failed", "talk", id, "error", err)
	}
	return nil
}

// AddPin pins a message id. The id must refer to a message in this Talk.
func (s *Store) AddPin(id, messageID string) error {
	if _, err := s.GetMessage(id, messageID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	for _, p := range t.PinnedMessageIDs {
		if p == messageID {
			return nil
		}
	}
	t.PinnedMessageIDs = append(t.PinnedMessageIDs, messageID)
	return s.bump(t, "pin_added", "")
}

// RemovePin unpins a message id.
func (s *Store) RemovePin(id, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	kept := t.PinnedMessageIDs[:0]
	removed := false
	for _, p := range t.PinnedMessageIDs {
		if p == messageID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return nil
	}
	t.PinnedMessageIDs = kept
	return s.bump(t, "pin_removed", "")
}

func (t *Talk) clone() *Talk {
	c := *t
	c.Agents = append([]AgentSpec(nil), t.Agents...)
	c.PinnedMessageIDs = append([]string(nil), t.PinnedMessageIDs...)
	c.Directives = append([]Directive(nil), t.Directives...)
	c.PlatformBindings = append([]Binding(nil), t.PlatformBindings...)
	c.Jobs = append([]Job(nil), t.Jobs...)
	c.ToolsAllow = append([]string(nil), t.ToolsAllow...)
	c.ToolsDeny = append([]string(nil), t.ToolsDeny...)
	c.PlatformBehaviors = make([]Behavior, len(t.PlatformBehaviors))
	for i, bh := range t.PlatformBehaviors {
		c.PlatformBehaviors[i] = bh
		if bh.ResponsePolicy != nil {
			rp := *bh.ResponsePolicy
			rp.AllowedSenders = append([]string(nil), bh.ResponsePolicy.AllowedSenders...)
			c.PlatformBehaviors[i].ResponsePolicy = &rp
		}
	}
	return &c
}
