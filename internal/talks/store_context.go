package talks

import (
	"os"
	"path/filepath"
)

// contextCacheTTLMillis bounds how stale a cached context document may be.
const contextCacheTTLMillis = 30_000

type contextEntry struct {
	content  string
	loadedAt int64
}

// GetContext returns the Talk's context document (context.md). Reads are
// cached for the TTL; a missing file reads as empty.
func (s *Store) GetContext(id string) (string, error) {
	if _, err := s.Get(id); err != nil {
		return "", err
	}
	now := NowMillis()
	s.ctxMu.Lock()
	if e, ok := s.ctxCache[id]; ok && now-e.loadedAt < s.ctxTTL {
		s.ctxMu.Unlock()
		return e.content, nil
	}
	s.ctxMu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir(id), contextFile))
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	content := string(data)
	s.ctxMu.Lock()
	s.ctxCache[id] = contextEntry{content: content, loadedAt: now}
	s.ctxMu.Unlock()
	return content, nil
}

// SetContext rewrites context.md whole and refreshes the cache.
func (s *Store) SetContext(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	if err := os.MkdirAll(s.dir(id), dirPerm); err != nil {
		return err
	}
	if err := writeFileAtomic(s.dir(id), contextFile, []byte(content)); err != nil {
		return err
	}
	s.ctxMu.Lock()
	s.ctxCache[id] = contextEntry{content: content, loadedAt: NowMillis()}
	s.ctxMu.Unlock()
	return s.bump(t, "context_updated", "")
}
