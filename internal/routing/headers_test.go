package routing

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

func TestAssertRoutingHeaders(t *testing.T) {
	tests := []struct {
		name     string
		mode     talks.ExecutionMode
		headers  map[string]string
		wantCode string
	}{
		{
			"openclaw mode accepts agent header",
			talks.ExecOpenClaw,
			map[string]string{HeaderAgentID: "ct-abc12345", HeaderSessionKey: "agent:ct-abc12345:main"},
			"",
		},
		{
			"full_control rejects agent header",
			talks.ExecFullControl,
			map[string]string{HeaderAgentID: "ct-abc12345"},
			GuardForbiddenAgentHeader,
		},
		{
			"full_control rejects agent session key",
			talks.ExecFullControl,
			map[string]string{HeaderSessionKey: "agent:ct-abc12345:main"},
			GuardForbiddenSessionKey,
		},
		{
			"header name matching is case-insensitive",
			talks.ExecFullControl,
			map[string]string{"X-OpenClaw-Agent-Id": "ct-abc12345"},
			GuardForbiddenAgentHeader,
		},
		{
			"full_control allows talk session key",
			talks.ExecFullControl,
			map[string]string{HeaderSessionKey: "talk:clawtalk:talk:t1:slack:channel:c1"},
			"",
		},
		{
			"empty agent header is fine",
			talks.ExecFullControl,
			map[string]string{HeaderAgentID: ""},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertRoutingHeaders(FlowJobScheduler, tt.mode, tt.headers)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ge *GuardError
			if !errors.As(err, &ge) {
				t.Fatalf("error = %v, want GuardError", err)
			}
			if ge.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", ge.Code, tt.wantCode)
			}
			if ge.Flow != FlowJobScheduler {
				t.Errorf("flow = %q", ge.Flow)
			}
		})
	}
}
