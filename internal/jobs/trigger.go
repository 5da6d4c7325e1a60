// Package jobs — the cron/one-shot scheduler, the event dispatcher and the
// shared job-execution routine both drive.
package jobs

import "strings"

// ParseEventTrigger parses an event job's schedule, which has the form
// "on <scope>" (e.g. "on channel:C123"). Returns the scope and whether the
// schedule was a well-formed trigger.
func ParseEventTrigger(schedule string) (string, bool) {
	s := strings.TrimSpace(schedule)
	rest, ok := strings.CutPrefix(s, "on ")
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}
