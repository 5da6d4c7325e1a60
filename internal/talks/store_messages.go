package talks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	// wholeFileThreshold: histories below this size are read in one piece.
	wholeFileThreshold = 64 * 1024
	// tailChunkSize is the backward-read step for large histories.
	tailChunkSize = 16 * 1024
)

// AppendMessage appends one message to history.jsonl. Missing id/timestamp
// are filled in. The append is awaited; errors surface to the caller.
func (s *Store) AppendMessage(id string, msg Message) (*Message, error) {
	s.mu.Lock()
	t, ok := s.talks[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = NowMillis()
	}
	dir := s.dir(id)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	line, err := json.Marshal(msg)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := appendLine(filepath.Join(dir, historyFile), line); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("append message: %w", err)
	}
	err = s.bump(t, "message_appended", "")
	s.mu.Unlock()
	if err != nil {
		slog.Warn("talks.persist_failed", "talk", id, "error", err)
	}
	return &msg, nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// GetMessages returns the full history. Corrupt lines are skipped with a
// warning; a single bad line never aborts the scan.
func (s *Store) GetMessages(id string) ([]Message, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir(id), historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseMessageLines(id, data), nil
}

func parseMessageLines(talkID string, data []byte) []Message {
	var out []Message
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			slog.Warn("talks.corrupt_history_line", "talk", talkID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// GetRecentMessages returns the last n messages in append order. Small files
// are loaded whole; larger ones are scanned backward in fixed-size chunks
// with a carry buffer for the partial first line of each chunk.
func (s *Store) GetRecentMessages(id string, n int) ([]Message, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	path := filepath.Join(s.dir(id), historyFile)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.Size() < wholeFileThreshold {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		msgs := parseMessageLines(id, data)
		if len(msgs) > n {
			msgs = msgs[len(msgs)-n:]
		}
		return msgs, nil
	}
	return s.tailMessages(id, path, info.Size(), n)
}

func (s *Store) tailMessages(talkID, path string, size int64, n int) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var collected []Message // newest first
	carry := []byte(nil)    // partial first line of the chunk below
	offset := size

	for offset > 0 && len(collected) < n {
		chunk := int64(tailChunkSize)
		if offset < chunk {
			chunk = offset
		}
		offset -= chunk
		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(buf, carry...)

		lines := bytes.Split(buf, []byte("\n"))
		// The first element may be a partial line continued in the
		// previous (lower-offset) chunk; carry it over unless we are at
		// the start of the file.
		start := 0
		if offset > 0 {
			carry = append([]byte(nil), lines[0]...)
			start = 1
		} else {
			carry = nil
		}
		for i := len(lines) - 1; i >= start && len(collected) < n; i-- {
			line := bytes.TrimSpace(lines[i])
			if len(line) == 0 {
				continue
			}
			var m Message
			if err := json.Unmarshal(line, &m); err != nil {
				slog.Warn("talks.corrupt_history_line", "talk", talkID, "error", err)
				continue
			}
			collected = append(collected, m)
		}
	}

	// Reverse into append order.
	out := make([]Message, len(collected))
	for i, m := range collected {
		out[len(collected)-1-i] = m
	}
	return out, nil
}

// GetMessage returns a single message by id.
func (s *Store) GetMessage(id, messageID string) (*Message, error) {
	msgs, err := s.GetMessages(id)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ID == messageID {
			return &msgs[i], nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
}

// DeleteMessages removes messages by id, rewriting the log atomically.
// Pins referencing removed messages are dropped in the same mutation, so no
// pinned id is ever left dangling.
func (s *Store) DeleteMessages(id string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	drop := make(map[string]bool, len(ids))
	for _, mid := range ids {
		drop[mid] = true
	}

	path := filepath.Join(s.dir(id), historyFile)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	var buf bytes.Buffer
	for _, m := range parseMessageLines(id, data) {
		if drop[m.ID] {
			continue
		}
		line, err := json.Marshal(m)
		if err != nil {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(s.dir(id), historyFile, buf.Bytes()); err != nil {
		return fmt.Errorf("rewrite history: %w", err)
	}

	kept := t.PinnedMessageIDs[:0]
	for _, p := range t.PinnedMessageIDs {
		if !drop[p] {
			kept = append(kept, p)
		}
	}
	t.PinnedMessageIDs = kept
	return s.bump(t, "messages_deleted", "")
}
