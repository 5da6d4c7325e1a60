package slackgw

import "github.com/nextlevelbuilder/clawtalk/internal/routing"

// payload is the subset of Slack's Events API envelope the proxy reads.
// Everything else is passed through to the host untouched.
type payload struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	TeamID    string      `json:"team_id,omitempty"`
	Event     *innerEvent `json:"event,omitempty"`
}

type innerEvent struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	User        string `json:"user,omitempty"`
	Username    string `json:"username,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
	Text        string `json:"text,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
}

// isBot reports whether the inner event was produced by a bot and must
// never re-enter the routing pipeline.
func (e *innerEvent) isBot() bool {
	return e.BotID != "" || e.Subtype == "bot_message"
}

// isMessageLike reports whether the event carries user text we route.
func (e *innerEvent) isMessageLike() bool {
	return e.Type == "message" || e.Type == "app_mention"
}

// toRoutingEvent normalizes the Slack payload into the routing shape.
func (p *payload) toRoutingEvent(accountID string) routing.Event {
	ev := routing.Event{EventID: p.EventID, AccountID: accountID}
	if p.Event == nil {
		return ev
	}
	ev.ChannelID = p.Event.Channel
	ev.ChannelName = p.Event.ChannelName
	ev.ThreadTS = p.Event.ThreadTS
	ev.MessageTS = p.Event.TS
	if ev.MessageTS == "" {
		ev.MessageTS = p.Event.EventTS
	}
	ev.UserID = p.Event.User
	ev.UserName = p.Event.Username
	ev.Text = p.Event.Text
	return ev
}
