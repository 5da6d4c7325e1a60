// Package slackout posts plugin-originated messages to Slack through the
// Web API. Inbound traffic never comes through here; this is the delivery
// side for scheduled job output only.
package slackout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/slack-go/slack"
)

// Sender posts messages with per-account bot tokens. An accountID without
// a configured token falls back to the "default" account, then to the
// SLACK_BOT_TOKEN environment variable.
type Sender struct {
	mu      sync.Mutex
	tokens  map[string]string
	clients map[string]*slack.Client
}

// NewSender builds a sender from an accountID to bot-token map.
func NewSender(tokens map[string]string) *Sender {
	if tokens == nil {
		tokens = make(map[string]string)
	}
	return &Sender{tokens: tokens, clients: make(map[string]*slack.Client)}
}

func (s *Sender) client(accountID string) (*slack.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[accountID]; ok {
		return c, nil
	}
	token := s.tokens[accountID]
	if token == "" {
		token = s.tokens["default"]
	}
	if token == "" {
		token = os.Getenv("SLACK_BOT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("no slack bot token for account %q", accountID)
	}
	c := slack.New(token)
	s.clients[accountID] = c
	return c, nil
}

// Send posts message to channelID, threading under threadTS when set.
func (s *Sender) Send(ctx context.Context, accountID, channelID, threadTS, message string) error {
	if accountID == "" {
		accountID = "default"
	}
	c, err := s.client(accountID)
	if err != nil {
		return err
	}
	opts := []slack.MsgOption{slack.MsgOptionText(message, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := c.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return fmt.Errorf("post to %s: %w", channelID, err)
	}
	slog.Debug("slackout.posted", "account", accountID, "channel", channelID, "ts", ts)
	return nil
}
