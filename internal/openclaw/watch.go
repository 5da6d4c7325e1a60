package openclaw

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// watchDebounce coalesces bursts of editor write events.
const watchDebounce = 2 * time.Second

// WatchHostConfig re-runs the ownership doctor whenever the host config
// file changes on disk, logging fresh conflicts. Detection only — external
// edits are never remediated, and binding changes still materialize only at
// the next reconcile. Blocks until ctx is done.
func WatchHostConfig(ctx context.Context, store *talks.Store, configPath string, clawTalkAgentIDs []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors replace files via rename, which drops a
	// watch on the file itself.
	if err := w.Add(filepath.Dir(configPath)); err != nil {
		return err
	}
	slog.Info("hostconfig.watching", "path", configPath)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(configPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("hostconfig.watch_error", "error", err)
		case <-fire:
			cfg, err := LoadHostConfig(configPath)
			if err != nil {
				slog.Warn("hostconfig.reload_failed", "error", err)
				continue
			}
			conflicts := FindConflicts(store.List(), cfg, clawTalkAgentIDs)
			if len(conflicts) == 0 {
				slog.Info("hostconfig.changed", "conflicts", 0)
				continue
			}
			for _, c := range conflicts {
				slog.Warn("hostconfig.ownership_conflict",
					"talk", c.TalkID, "scope", c.TalkScope, "account", c.TalkAccountID,
					"host_agent", c.OpenClawAgentID)
			}
		}
	}
}
