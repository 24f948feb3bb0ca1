package handlers

import (
	"net/http"

	"log/slog"

	"github.com/gorilla/mux"

	"chatrelay/pkg/call"
	"chatrelay/pkg/models"
	"chatrelay/pkg/utils"
)

var coord *call.Coordinator

// RegisterCalls registers call-session lifecycle endpoints.
func RegisterCalls(r *mux.Router, c *call.Coordinator) {
	coord = c

	r.HandleFunc("/threads/{threadID}/calls", startCall).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadID}/calls/active", activeCall).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}/calls/events", streamActiveCall).Methods(http.MethodGet)

	r.HandleFunc("/calls/{sessionID}", getCall).Methods(http.MethodGet)
	r.HandleFunc("/calls/{sessionID}/join", joinCall).Methods(http.MethodPost)
	r.HandleFunc("/calls/{sessionID}/connected", connectedCall).Methods(http.MethodPost)
	r.HandleFunc("/calls/{sessionID}/end", endCall).Methods(http.MethodPost)
	r.HandleFunc("/calls/{sessionID}/decline", declineCall).Methods(http.MethodPost)
	r.HandleFunc("/calls/{sessionID}/events", streamCall).Methods(http.MethodGet)
}

type startCallReq struct {
	Caller string          `json:"caller"`
	Callee string          `json:"callee"`
	Type   models.CallType `json:"type"`
}

func startCall(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req startCallReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if req.Caller == "" || req.Callee == "" {
		utils.JSONError(w, http.StatusBadRequest, "caller and callee required")
		return
	}
	sess, err := coord.Start(threadID, req.Caller, req.Callee, req.Type)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

func activeCall(w http.ResponseWriter, r *http.Request) {
	sess, ok, err := coord.Active(mux.Vars(r)["threadID"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Active  bool               `json:"active"`
		Session models.CallSession `json:"session,omitempty"`
	}{Active: ok, Session: sess})
}

func getCall(w http.ResponseWriter, r *http.Request) {
	sess, err := coord.Get(mux.Vars(r)["sessionID"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

func joinCall(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	var req actorReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	sess, err := coord.Join(sessionID, req.User)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

func connectedCall(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	if err := coord.MarkConnected(sessionID); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "connected"})
}

func endCall(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	var req actorReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if err := coord.End(sessionID, req.User); err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("call_end_requested", "session", sessionID, "by", req.User)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ended"})
}

func declineCall(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	var req actorReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if err := coord.Decline(sessionID, req.User); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "declined"})
}

// streamCall pushes session state transitions over SSE until the session
// turns terminal.
func streamCall(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	flusher := sseStart(w)
	if flusher == nil {
		return
	}
	for sess := range coord.Watch(r.Context(), sessionID) {
		sseEvent(w, "call", sess)
		flusher.Flush()
	}
}

// streamActiveCall pushes the thread's active-call slot over SSE so the
// callee discovers incoming calls.
func streamActiveCall(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	flusher := sseStart(w)
	if flusher == nil {
		return
	}
	for sess := range coord.WatchActive(r.Context(), threadID) {
		sseEvent(w, "active_call", sess)
		flusher.Flush()
	}
}
