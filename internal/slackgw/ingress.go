package slackgw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/clawtalk/internal/routing"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// Ingress is the in-process pipeline behind the proxy: dedup, ownership
// resolution, pass counters, and inbound mirroring. It never calls the
// LLM itself; the host's managed agent answers for owned channels.
type Ingress struct {
	store *talks.Store
	dedup *routing.DedupTable

	// onMessage, when set, sees every non-duplicate inbound event after
	// routing. Used to bridge the event-job dispatcher.
	onMessage func(ev routing.Event)

	mu         sync.Mutex
	passCounts map[string]int64
}

// SetMessageHook installs the post-routing message hook. Call before the
// proxy starts serving.
func (in *Ingress) SetMessageHook(fn func(ev routing.Event)) { in.onMessage = fn }

// NewIngress wires the pipeline to a talk store and a dedup table.
func NewIngress(store *talks.Store, dedup *routing.DedupTable) *Ingress {
	return &Ingress{
		store:      store,
		dedup:      dedup,
		passCounts: make(map[string]int64),
	}
}

// Handle runs one event through the pipeline and returns the recorded
// decision. Duplicate deliveries get the original decision back with the
// duplicate flag set.
func (in *Ingress) Handle(ctx context.Context, ev routing.Event) routing.Decision {
	_, span := otel.Tracer("clawtalk/slackgw").Start(ctx, "ingress.route")
	defer span.End()

	dec := in.route(ev)
	span.SetAttributes(
		attribute.String("channel.id", ev.ChannelID),
		attribute.String("decision", dec.Decision),
		attribute.String("reason", dec.Reason),
		attribute.Bool("duplicate", dec.Duplicate),
	)
	return dec
}

func (in *Ingress) route(ev routing.Event) routing.Decision {
	key := routing.EventKey(ev)
	if dec, ok := in.dedup.Lookup(key); ok {
		dec.Duplicate = true
		return dec
	}

	dec := routing.Resolve(ev, in.store.List())
	if dec.Decision == routing.DecisionHandled {
		// Ownership is established but the reply comes from the host's
		// managed agent, so the recorded outcome is always a pass.
		dec.Decision = routing.DecisionPass
		dec.Reason = routing.ReasonDelegatedToAgent
	}
	dec, dup := in.dedup.Record(key, dec)
	if dup {
		dec.Duplicate = true
		return dec
	}

	if dec.TalkID != "" {
		in.mu.Lock()
		in.passCounts[dec.TalkID]++
		in.mu.Unlock()
	}
	if dec.Reason == routing.ReasonDelegatedToAgent && dec.Behavior != nil {
		switch dec.Behavior.MirrorToTalk {
		case talks.MirrorInbound, talks.MirrorFull:
			go in.mirror(dec.TalkID, ev)
		}
	}
	if in.onMessage != nil {
		go in.onMessage(ev)
	}
	return dec
}

// PassCount reports how many events this process passed to the given Talk's
// managed agent since start.
func (in *Ingress) PassCount(talkID string) int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.passCounts[talkID]
}

// mirror appends the inbound message to the Talk log, fire-and-forget.
func (in *Ingress) mirror(talkID string, ev routing.Event) {
	channel := ev.ChannelName
	if channel == "" {
		channel = ev.ChannelID
	}
	sender := ev.UserName
	if sender == "" {
		sender = ev.UserID
	}
	header := fmt.Sprintf("[Slack #%s", channel)
	if ev.ThreadTS != "" {
		header += fmt.Sprintf(" (thread %s)", ev.ThreadTS)
	}
	header += fmt.Sprintf(" from %s]", sender)

	_, err := in.store.AppendMessage(talkID, talks.Message{
		Role:    talks.RoleUser,
		Content: header + "\n" + ev.Text,
	})
	if err != nil {
		slog.Warn("slackgw.mirror.failed", "talk_id", talkID, "error", err)
	}
}
