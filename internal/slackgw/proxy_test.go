package slackgw

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

const testSecret = "test-signing-secret"

// hostSink captures payloads forwarded to the OpenClaw webhook.
type hostSink struct {
	srv      *httptest.Server
	hits     atomic.Int64
	sig      atomic.Value // last X-Slack-Signature
	failures atomic.Int64 // respond 500 this many times first
}

func newHostSink(t *testing.T) *hostSink {
	t.Helper()
	s := &hostSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.sig.Store(r.Header.Get("X-Slack-Signature"))
		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *hostSink) waitHits(t *testing.T, n int64, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if s.hits.Load() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("forward hits = %d, want %d", s.hits.Load(), n)
}

func proxyFixture(t *testing.T) (*httptest.Server, *talks.Talk, *hostSink) {
	t.Helper()
	t.Setenv("SLACK_SIGNING_SECRET", "")
	t.Setenv("GATEWAY_SLACK_SIGNING_SECRET", "")

	sink := newHostSink(t)
	t.Setenv("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL", "")

	in, _, tk := ingressFixture(t, talks.MirrorOff)
	hostCfg := &openclaw.HostConfig{}
	hostCfg.Channels.Slack.SigningSecret = testSecret

	mux := http.NewServeMux()
	// The sink URL arrives via plugin config, not the env override.
	NewProxy(in, hostCfg, sink.srv.URL).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, tk, sink
}

func postSigned(t *testing.T, url, secret string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, url+"/slack/events", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", signV0(secret, ts, body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func messageBody(channel, ts, text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":     "event_callback",
		"event_id": "Ev" + ts,
		"event": map[string]any{
			"type":    "message",
			"channel": channel,
			"user":    "U1",
			"ts":      ts,
			"text":    text,
		},
	})
	return b
}

func TestProxy_URLVerification(t *testing.T) {
	srv, _, _ := proxyFixture(t)
	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)

	resp, out := postSigned(t, srv.URL, testSecret, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["challenge"] != "abc123" {
		t.Errorf("challenge = %v", out)
	}
}

func TestProxy_BadSignature(t *testing.T) {
	srv, _, sink := proxyFixture(t)

	resp, _ := postSigned(t, srv.URL, "wrong-secret", messageBody("C123", "1.0", "hi"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	time.Sleep(100 * time.Millisecond)
	if sink.hits.Load() != 0 {
		t.Error("unverified payload was forwarded")
	}
}

func TestProxy_OwnedChannelRoutedInProcess(t *testing.T) {
	srv, tk, sink := proxyFixture(t)

	resp, out := postSigned(t, srv.URL, testSecret, messageBody("C123", "1.0", "hi"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["routed"] != "clawtalk" || out["talkId"] != tk.ID {
		t.Errorf("ack = %v", out)
	}
	time.Sleep(100 * time.Millisecond)
	if sink.hits.Load() != 0 {
		t.Error("owned event was forwarded to the host")
	}
}

func TestProxy_UnownedChannelForwarded(t *testing.T) {
	srv, _, sink := proxyFixture(t)

	resp, out := postSigned(t, srv.URL, testSecret, messageBody("C999", "2.0", "hi"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["routed"] != "openclaw" {
		t.Errorf("ack = %v", out)
	}
	sink.waitHits(t, 1, 2*time.Second)
	if sig, _ := sink.sig.Load().(string); !strings.HasPrefix(sig, "v0=") {
		t.Errorf("forward lost the Slack signature header: %q", sig)
	}
}

func TestProxy_BotEventsSkipRouting(t *testing.T) {
	srv, _, sink := proxyFixture(t)
	body, _ := json.Marshal(map[string]any{
		"type": "event_callback",
		"event": map[string]any{
			"type": "message", "channel": "C123", "bot_id": "B01", "ts": "3.0", "text": "beep",
		},
	})

	resp, out := postSigned(t, srv.URL, testSecret, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["skipped"] != "bot_message" {
		t.Errorf("ack = %v", out)
	}
	// Bot traffic still reaches the host.
	sink.waitHits(t, 1, 2*time.Second)
}

func TestProxy_NonEventPayloadForwarded(t *testing.T) {
	srv, _, sink := proxyFixture(t)

	resp, out := postSigned(t, srv.URL, testSecret, []byte(`{"type":"app_rate_limited"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["forwarded"] != true {
		t.Errorf("ack = %v", out)
	}
	sink.waitHits(t, 1, 2*time.Second)
}

func TestProxy_OversizeBodyRejected(t *testing.T) {
	srv, _, _ := proxyFixture(t)
	body := bytes.Repeat([]byte("x"), maxBodyBytes+1)

	resp, _ := postSigned(t, srv.URL, testSecret, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProxy_NoSecretsConfigured(t *testing.T) {
	t.Setenv("SLACK_SIGNING_SECRET", "")
	t.Setenv("GATEWAY_SLACK_SIGNING_SECRET", "")
	in, _, _ := ingressFixture(t, talks.MirrorOff)

	mux := http.NewServeMux()
	NewProxy(in, &openclaw.HostConfig{}, "").Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, _ := postSigned(t, srv.URL, testSecret, []byte("{}"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProxy_ForwardRetriesServerErrors(t *testing.T) {
	srv, _, sink := proxyFixture(t)
	sink.failures.Store(2)

	postSigned(t, srv.URL, testSecret, messageBody("C999", "4.0", "hi"))
	// Two 500s then a success: three deliveries total.
	sink.waitHits(t, 3, 4*time.Second)
}

func TestProxy_ForwardURLResolution(t *testing.T) {
	t.Setenv("OPENCLAW_HTTP_PORT", "")
	t.Setenv("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL", "")

	hostCfg := &openclaw.HostConfig{}
	hostCfg.Channels.Slack.Accounts = map[string]openclaw.SlackAccount{
		"ops": {WebhookPath: "/hooks/ops"},
	}

	p := NewProxy(nil, hostCfg, "http://cfg.example/slack/events")
	if got := p.forwardURL("default"); got != "http://cfg.example/slack/events" {
		t.Errorf("configured url ignored: %q", got)
	}
	// The configured URL also beats a per-account path.
	if got := p.forwardURL("ops"); got != "http://cfg.example/slack/events" {
		t.Errorf("account path beat configured url: %q", got)
	}

	t.Setenv("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL", "http://env.example/hook")
	if got := p.forwardURL("default"); got != "http://env.example/hook" {
		t.Errorf("env override ignored: %q", got)
	}

	t.Setenv("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL", "")
	p = NewProxy(nil, hostCfg, "")
	if got := p.forwardURL("ops"); got != "http://127.0.0.1:3000/hooks/ops" {
		t.Errorf("account path ignored: %q", got)
	}
	if got := p.forwardURL("default"); got != "http://127.0.0.1:3000/slack/events" {
		t.Errorf("local default = %q", got)
	}
}

func TestSourceLimiters(t *testing.T) {
	l := newSourceLimiters()
	denied := false
	for i := 0; i < 25; i++ {
		if !l.allow("10.0.0.1") {
			denied = true
		}
	}
	if !denied {
		t.Error("burst of 25 never rate limited")
	}
	if !l.allow("10.0.0.2") {
		t.Error("fresh source denied")
	}
}

func TestSourceLimiters_BoundedMap(t *testing.T) {
	l := newSourceLimiters()
	for i := 0; i < limiterKeyCap; i++ {
		l.allow("host-" + strconv.Itoa(i))
	}
	// The cap triggers a wholesale reset instead of unbounded growth.
	if !l.allow("one-more") {
		t.Error("allow failed after reset")
	}
	if len(l.m) > limiterKeyCap {
		t.Errorf("limiter map size = %d", len(l.m))
	}
}
