package jobs

import (
	"strings"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// defaultToolCatalog is offered when a Talk has no explicit allow list.
var defaultToolCatalog = []string{
	"state_append_event",
	"state_read_summary",
	"google_docs_append",
	"web_search",
	"web_fetch",
	"file_read",
	"file_write",
	"shell_exec",
	"schedule_job",
}

// PolicyAllowedTools computes the tool set the Talk's policy permits:
// the allow list (or the default catalog) minus denials, further narrowed by
// the capability flags. ToolMode off disables everything.
func PolicyAllowedTools(t *talks.Talk) []string {
	if t.ToolMode == talks.ToolsOff {
		return nil
	}
	base := t.ToolsAllow
	if len(base) == 0 {
		base = defaultToolCatalog
	}
	deny := make(map[string]bool, len(t.ToolsDeny))
	for _, d := range t.ToolsDeny {
		deny[strings.ToLower(d)] = true
	}
	var out []string
	for _, tool := range base {
		key := strings.ToLower(tool)
		if deny[key] {
			continue
		}
		if t.NetworkAccess == talks.NetRestricted && (key == "web_search" || key == "web_fetch") {
			continue
		}
		if t.FilesystemAccess == talks.FSWorkspaceSandbox && key == "shell_exec" {
			continue
		}
		out = append(out, tool)
	}
	return out
}
