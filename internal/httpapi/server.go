// Package httpapi exposes the plugin's local ingress surface: a direct
// event endpoint for host-side hook adapters and read-only Talk views.
// It binds to loopback; Slack itself enters through the slackgw proxy.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/routing"
	"github.com/nextlevelbuilder/clawtalk/internal/slackgw"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// API serves the local HTTP surface.
type API struct {
	store   *talks.Store
	ingress *slackgw.Ingress
}

// New wires the API to the talk store and the ingress pipeline.
func New(store *talks.Store, ingress *slackgw.Ingress) *API {
	return &API{store: store, ingress: ingress}
}

// Routes registers all endpoints on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events/slack", a.handleSlackEvent)
	mux.HandleFunc("GET /api/talks", a.handleListTalks)
	mux.HandleFunc("GET /api/talks/{id}", a.handleGetTalk)
	mux.HandleFunc("GET /api/talks/{id}/context-block", a.handleContextBlock)
}

// handleSlackEvent runs a pre-verified event through the ingress pipeline
// and returns the routing decision. Used by in-host hook adapters that
// already hold a trusted event, so no signature check happens here.
func (a *API) handleSlackEvent(w http.ResponseWriter, r *http.Request) {
	var ev routing.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad event payload"})
		return
	}
	if ev.ChannelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "channelId is required"})
		return
	}
	writeJSON(w, http.StatusOK, a.ingress.Handle(r.Context(), ev))
}

func (a *API) handleListTalks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"talks": a.store.List()})
}

func (a *API) handleGetTalk(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeTalkErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleContextBlock returns the pre-assembled agent context block for a
// Talk, the same text injected on before_agent_start.
func (a *API) handleContextBlock(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeTalkErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"talkId":       t.ID,
		"contextBlock": openclaw.BuildContextBlock(a.store, t),
	})
}

func writeTalkErr(w http.ResponseWriter, err error) {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, talks.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "talk not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
