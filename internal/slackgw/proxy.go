package slackgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/routing"
)

const (
	// maxBodyBytes caps the webhook payload we are willing to read.
	maxBodyBytes = 512 << 10

	// forwardRetries is how many times a failed forward is retried.
	forwardRetries = 2
	// forwardBackoff is the linear backoff step between retries.
	forwardBackoff = 500 * time.Millisecond

	// limiterKeyCap bounds the per-source limiter map.
	limiterKeyCap = 1024
)

// Proxy terminates Slack's Events API webhook: verify, classify, ack.
// Events owned by a Talk are answered in-process metadata-wise; everything
// else is forwarded to the host, fire-and-forget.
type Proxy struct {
	ingress    *Ingress
	secrets    []SigningSecret
	hostCfg    *openclaw.HostConfig
	webhookURL string
	httpc      *http.Client
	now        func() time.Time

	limiters *sourceLimiters
}

// NewProxy builds a proxy. webhookURL is the plugin-configured host webhook
// endpoint; empty means fall through to the account path or local default.
// The secret list is assembled once at startup; rotating a secret means
// restarting the plugin.
func NewProxy(ingress *Ingress, hostCfg *openclaw.HostConfig, webhookURL string) *Proxy {
	return &Proxy{
		ingress:    ingress,
		secrets:    AssembleSecrets(hostCfg),
		hostCfg:    hostCfg,
		webhookURL: webhookURL,
		httpc:      &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		limiters:   newSourceLimiters(),
	}
}

// Routes registers the webhook endpoint.
func (p *Proxy) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /slack/events", p.handleEvents)
}

func (p *Proxy) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("clawtalk/slackgw").Start(r.Context(), "slack.webhook")
	defer span.End()

	if !p.limiters.allow(remoteHost(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limited"})
		return
	}
	if len(p.secrets) == 0 {
		slog.Error("slackgw.proxy.no_signing_secret")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "no signing secret configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	accountID, err := VerifySignature(p.secrets, body,
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		p.now())
	if err != nil {
		slog.Warn("slackgw.proxy.bad_signature", "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "bad signature"})
		return
	}

	var pl payload
	if err := json.Unmarshal(body, &pl); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad payload"})
		return
	}
	span.SetAttributes(
		attribute.String("payload.type", pl.Type),
		attribute.String("account.id", accountID),
	)

	switch {
	case pl.Type == "url_verification":
		writeJSON(w, http.StatusOK, map[string]any{"challenge": pl.Challenge})

	case pl.Type != "event_callback" || pl.Event == nil:
		p.forward(accountID, body, r.Header)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "forwarded": true})

	case pl.Event.isBot():
		p.forward(accountID, body, r.Header)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": "bot_message"})

	case pl.Event.isMessageLike():
		dec := p.ingress.Handle(ctx, pl.toRoutingEvent(accountID))
		if dec.Reason == routing.ReasonDelegatedToAgent {
			writeJSON(w, http.StatusOK, map[string]any{
				"ok": true, "routed": "clawtalk", "talkId": dec.TalkID,
			})
			return
		}
		p.forward(accountID, body, r.Header)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "routed": "openclaw"})

	default:
		p.forward(accountID, body, r.Header)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "forwarded": true})
	}
}

// forward relays the raw payload to the host, fire-and-forget. The Slack
// ack already went out, so failures are logged and dropped after retries.
func (p *Proxy) forward(accountID string, body []byte, hdr http.Header) {
	url := p.forwardURL(accountID)
	headers := map[string]string{
		"Content-Type":              "application/json",
		"X-Slack-Signature":         hdr.Get("X-Slack-Signature"),
		"X-Slack-Request-Timestamp": hdr.Get("X-Slack-Request-Timestamp"),
	}
	go func() {
		var lastErr error
		for attempt := 0; attempt <= forwardRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(forwardBackoff * time.Duration(attempt))
			}
			lastErr = p.post(url, body, headers)
			if lastErr == nil {
				return
			}
		}
		slog.Warn("slackgw.proxy.forward_failed", "url", url, "error", lastErr)
	}()
}

func (p *Proxy) post(url string, body []byte, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("host replied %d", resp.StatusCode)
	}
	return nil
}

// forwardURL resolves the host webhook endpoint: explicit env override,
// then the plugin config URL, then the account's configured webhook path,
// then the local default.
func (p *Proxy) forwardURL(accountID string) string {
	if v := os.Getenv("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL"); v != "" {
		return v
	}
	if p.webhookURL != "" {
		return p.webhookURL
	}
	path := "/slack/events"
	if p.hostCfg != nil {
		if acct, ok := p.hostCfg.Channels.Slack.Accounts[accountID]; ok && acct.WebhookPath != "" {
			if strings.HasPrefix(acct.WebhookPath, "http://") || strings.HasPrefix(acct.WebhookPath, "https://") {
				return acct.WebhookPath
			}
			path = acct.WebhookPath
		}
	}
	port := os.Getenv("OPENCLAW_HTTP_PORT")
	if port == "" {
		port = "3000"
	}
	return "http://127.0.0.1:" + port + path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sourceLimiters is a bounded map of per-source token buckets. When the
// map fills up it is reset wholesale rather than grown without bound.
type sourceLimiters struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func newSourceLimiters() *sourceLimiters {
	return &sourceLimiters{m: make(map[string]*rate.Limiter)}
}

func (s *sourceLimiters) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.m) >= limiterKeyCap {
		s.m = make(map[string]*rate.Limiter)
	}
	l, ok := s.m[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(50*time.Millisecond), 20)
		s.m[key] = l
	}
	return l.Allow()
}
