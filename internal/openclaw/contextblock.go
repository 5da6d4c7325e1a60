package openclaw

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// Context block budgets. The block is injected into the managed agent's
// system prompt on before_agent_start, so it must stay small.
const (
	contextBlockTotalMaxChars   = 2048
	contextBlockSectionMaxChars = 600
)

// TalkForAgent resolves the Talk behind a managed agent id (ct-<8>).
// Returns nil for foreign agent ids.
func TalkForAgent(store *talks.Store, agentID string) *talks.Talk {
	if !strings.HasPrefix(agentID, ManagedAgentPrefix) {
		return nil
	}
	prefix := strings.TrimPrefix(agentID, ManagedAgentPrefix)
	for _, t := range store.List() {
		if strings.HasPrefix(t.ID, prefix) {
			return t
		}
	}
	return nil
}

// BuildContextBlock composes the Talk context injected into a managed
// agent's run: objective, active directives, the context document and
// pinned messages, trimmed to the block budget.
func BuildContextBlock(store *talks.Store, t *talks.Talk) string {
	var b strings.Builder
	b.WriteString("## Talk: ")
	if t.TopicTitle != "" {
		b.WriteString(t.TopicTitle)
	} else {
		b.WriteString(t.ID)
	}
	b.WriteString("\n")
	b.WriteString("You are the managed agent for this Talk. Stay within its objective and rules.\n")

	if t.Objective != "" {
		b.WriteString("\n### Objective\n")
		b.WriteString(clip(t.Objective, contextBlockSectionMaxChars))
		b.WriteString("\n")
	}

	var rules []string
	for _, d := range t.Directives {
		if d.Active {
			rules = append(rules, d.Text)
		}
	}
	if len(rules) > 0 {
		b.WriteString("\n### Rules\n")
		for _, r := range rules {
			b.WriteString("- ")
			b.WriteString(clip(r, 200))
			b.WriteString("\n")
		}
	}

	if ctx, err := store.GetContext(t.ID); err == nil && ctx != "" {
		b.WriteString("\n### Context\n")
		b.WriteString(clip(ctx, contextBlockSectionMaxChars))
		b.WriteString("\n")
	}

	if len(t.PinnedMessageIDs) > 0 {
		b.WriteString("\n### Pinned\n")
		for _, pid := range t.PinnedMessageIDs {
			msg, err := store.GetMessage(t.ID, pid)
			if err != nil {
				continue
			}
			b.WriteString(fmt.Sprintf("- [%s] %s\n", msg.Role, clip(msg.Content, 200)))
		}
	}

	if reports, err := store.GetRecentReports(t.ID, 0, ""); err == nil && len(reports) > 0 {
		if len(reports) > 3 {
			reports = reports[len(reports)-3:]
		}
		b.WriteString("\n### Recent job runs\n")
		for i := len(reports) - 1; i >= 0; i-- {
			r := reports[i]
			b.WriteString(fmt.Sprintf("- %s: %s\n", r.JobID, r.Status))
		}
	}

	b.WriteString(fmt.Sprintf("\n### State\ntalks/%s/history.jsonl\ntalks/%s/context.md\n", t.ID, t.ID))
	return clip(b.String(), contextBlockTotalMaxChars)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
