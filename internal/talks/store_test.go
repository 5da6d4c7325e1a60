package talks

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStore_CreateDefaults(t *testing.T) {
	s := newTestStore(t)
	tk, err := s.Create("claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	if tk.ID == "" || tk.ChangeID == "" {
		t.Fatal("missing ids on created talk")
	}
	if tk.TalkVersion != 1 {
		t.Errorf("TalkVersion = %d, want 1", tk.TalkVersion)
	}
	if tk.ExecutionMode != ExecOpenClaw {
		t.Errorf("ExecutionMode = %q, want %q", tk.ExecutionMode, ExecOpenClaw)
	}
	if tk.ToolMode != ToolsConfirm {
		t.Errorf("ToolMode = %q, want %q", tk.ToolMode, ToolsConfirm)
	}

	got, err := s.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q", got.Model)
	}
}

func TestStore_UpdateBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	tk, _ := s.Create("")

	title := "standup notes"
	prev := tk.TalkVersion
	prevChange := tk.ChangeID
	for i := 0; i < 3; i++ {
		got, err := s.Update(tk.ID, Patch{TopicTitle: &title}, "test")
		if err != nil {
			t.Fatal(err)
		}
		if got.TalkVersion != prev+1 {
			t.Fatalf("TalkVersion = %d, want %d", got.TalkVersion, prev+1)
		}
		if got.ChangeID == prevChange {
			t.Fatal("ChangeID did not rotate")
		}
		prev = got.TalkVersion
		prevChange = got.ChangeID
	}
}

func TestStore_UpdateNormalizes(t *testing.T) {
	s := newTestStore(t)
	tk, _ := s.Create("")

	mode := "unsandboxed"
	got, err := s.Update(tk.ID, Patch{ExecutionMode: &mode}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if got.ExecutionMode != ExecFullControl {
		t.Errorf("ExecutionMode = %q, want %q", got.ExecutionMode, ExecFullControl)
	}

	// A behavior pointing at an unknown binding is dropped on update.
	behaviors := []Behavior{{PlatformBindingID: "nope", ResponseMode: RespondAll}}
	got, err = s.Update(tk.ID, Patch{PlatformBehaviors: &behaviors}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.PlatformBehaviors) != 0 {
		t.Errorf("kept %d behaviors with unknown binding", len(got.PlatformBehaviors))
	}
}

func TestStore_DeleteSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	tk, _ := s.Create("")
	if err := s.Delete(tk.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(tk.ID); err != ErrNotFound {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Get(tk.ID); err != ErrNotFound {
		t.Fatal("deleted talk re-emerged after restart")
	}
}

func TestStore_StaleProcessingCleared(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	tk, _ := s.Create("")
	if err := s.SetProcessing(tk.ID, true); err != nil {
		t.Fatal(err)
	}

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s2.Get(tk.ID)
	if got.Processing {
		t.Fatal("processing flag survived restart")
	}
}

func TestStore_SubscribeSeesChanges(t *testing.T) {
	s := newTestStore(t)
	tk, _ := s.Create("")

	var events []ChangeEvent
	s.Subscribe("test", func(ev ChangeEvent) { events = append(events, ev) })
	defer s.Unsubscribe("test")

	title := "x"
	if _, err := s.Update(tk.ID, Patch{TopicTitle: &title}, "test"); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != "updated" || events[0].TalkID != tk.ID {
		t.Errorf("unexpected event %+v", events[0])
	}
	if events[0].TalkVersion != 2 {
		t.Errorf("event version = %d, want 2", events[0].TalkVersion)
	}
}

func TestStore_ListenerPanicDoesNotPoisonStore(t *testing.T) {
	s := newTestStore(t)
	s.Subscribe("bad", func(ChangeEvent) { panic("boom") })
	defer s.Unsubscribe("bad")

	if _, err := s.Create(""); err != nil {
		t.Fatalf("create with panicking listener: %v", err)
	}
}

func TestStore_PinValidation(t *testing.T) {
	s := newTestStore(t)
	tk, _ := s.Create("")

	if err := s.AddPin(tk.ID, "missing"); err == nil {
		t.Fatal("pinned a message that does not exist")
	}

	msg, err := s.AppendMessage(tk.ID, Message{Role: RoleUser, Content: "keep this"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddPin(tk.ID, msg.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(tk.ID)
	if len(got.PinnedMessageIDs) != 1 || got.PinnedMessageIDs[0] != msg.ID {
		t.Errorf("pins = %v", got.PinnedMessageIDs)
	}

	// Deleting the pinned message removes the dangling pin too.
	if err := s.DeleteMessages(tk.ID, []string{msg.ID}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(tk.ID)
	if len(got.PinnedMessageIDs) != 0 {
		t.Errorf("dangling pins left: %v", got.PinnedMessageIDs)
	}
}

func TestStore_TalkJSONOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	tk, _ := s.Create("")

	path := filepath.Join(dir, "talks", tk.ID, "talk.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("talk.json missing: %v", err)
	}
}
