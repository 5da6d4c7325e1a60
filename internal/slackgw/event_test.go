package slackgw

import "testing"

func TestInnerEventClassification(t *testing.T) {
	tests := []struct {
		name        string
		ev          innerEvent
		bot         bool
		messageLike bool
	}{
		{"plain message", innerEvent{Type: "message"}, false, true},
		{"app mention", innerEvent{Type: "app_mention"}, false, true},
		{"bot id set", innerEvent{Type: "message", BotID: "B01"}, true, true},
		{"bot_message subtype", innerEvent{Type: "message", Subtype: "bot_message"}, true, true},
		{"reaction", innerEvent{Type: "reaction_added"}, false, false},
		{"channel join", innerEvent{Type: "member_joined_channel"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.isBot(); got != tt.bot {
				t.Errorf("isBot = %v, want %v", got, tt.bot)
			}
			if got := tt.ev.isMessageLike(); got != tt.messageLike {
				t.Errorf("isMessageLike = %v, want %v", got, tt.messageLike)
			}
		})
	}
}

func TestPayloadToRoutingEvent(t *testing.T) {
	p := payload{
		EventID: "Ev01",
		Event: &innerEvent{
			Type:        "message",
			Channel:     "C123",
			ChannelName: "general",
			User:        "U42",
			Username:    "dev",
			Text:        "hello",
			TS:          "1756.100",
			ThreadTS:    "1756.000",
		},
	}
	ev := p.toRoutingEvent("ops")
	if ev.EventID != "Ev01" || ev.AccountID != "ops" {
		t.Errorf("envelope fields = %+v", ev)
	}
	if ev.ChannelID != "C123" || ev.ChannelName != "general" || ev.UserID != "U42" || ev.UserName != "dev" {
		t.Errorf("identity fields = %+v", ev)
	}
	if ev.MessageTS != "1756.100" || ev.ThreadTS != "1756.000" || ev.Text != "hello" {
		t.Errorf("message fields = %+v", ev)
	}

	// Without ts the event timestamp stands in.
	p.Event.TS = ""
	p.Event.EventTS = "1756.200"
	if got := p.toRoutingEvent("").MessageTS; got != "1756.200" {
		t.Errorf("MessageTS fallback = %q", got)
	}

	// A payload with no inner event still carries the envelope.
	p.Event = nil
	ev = p.toRoutingEvent("ops")
	if ev.EventID != "Ev01" || ev.ChannelID != "" {
		t.Errorf("bare envelope = %+v", ev)
	}
}
