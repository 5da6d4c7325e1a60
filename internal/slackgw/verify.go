// Package slackgw — the signature-verified Slack front door and the
// in-process ingress pipeline behind it. The proxy terminates Slack's
// Events API webhook, decides handled-vs-forward, and always acks fast;
// the ingress resolves ownership and mirrors without ever calling the LLM.
package slackgw

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
)

// signatureSkew is the accepted clock drift on the request timestamp.
const signatureSkew = 5 * time.Minute

// ErrBadSignature is returned when no candidate secret matches.
var ErrBadSignature = errors.New("slack signature mismatch")

// SigningSecret is one verification candidate bound to an account.
type SigningSecret struct {
	AccountID string
	Value     string
}

// AssembleSecrets builds the ordered candidate list: per-account secrets
// first, then the base channels.slack secret and the env fallbacks, both
// bound to the "default" account. Duplicated secret values keep only the
// most specific binding.
func AssembleSecrets(cfg *openclaw.HostConfig) []SigningSecret {
	var out []SigningSecret
	seen := make(map[string]bool)
	add := func(accountID, value string) {
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		out = append(out, SigningSecret{AccountID: accountID, Value: value})
	}

	ids := make([]string, 0, len(cfg.Channels.Slack.Accounts))
	for id := range cfg.Channels.Slack.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		add(id, cfg.Channels.Slack.Accounts[id].SigningSecret)
	}
	add("default", cfg.Channels.Slack.SigningSecret)
	add("default", os.Getenv("GATEWAY_SLACK_SIGNING_SECRET"))
	add("default", os.Getenv("SLACK_SIGNING_SECRET"))
	return out
}

// VerifySignature checks the v0 HMAC signature against each candidate
// secret, constant-time, first match wins. Returns the matched account id.
func VerifySignature(secrets []SigningSecret, body []byte, timestamp, signature string, now time.Time) (string, error) {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad timestamp %q: %w", timestamp, ErrBadSignature)
	}
	drift := now.Sub(time.Unix(ts, 0))
	if drift > signatureSkew || drift < -signatureSkew {
		return "", fmt.Errorf("timestamp outside ±5m window: %w", ErrBadSignature)
	}
	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	for _, s := range secrets {
		mac := hmac.New(sha256.New, []byte(s.Value))
		mac.Write([]byte(base))
		expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return s.AccountID, nil
		}
	}
	return "", ErrBadSignature
}
