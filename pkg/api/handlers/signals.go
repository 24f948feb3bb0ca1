package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/models"
	"chatrelay/pkg/relay"
	"chatrelay/pkg/utils"
)

// RegisterSignals registers signaling relay endpoints.
func RegisterSignals(r *mux.Router) {
	r.HandleFunc("/calls/{sessionID}/signals", sendSignal).Methods(http.MethodPost)
	r.HandleFunc("/calls/{sessionID}/signals/{role}/events", streamSignals).Methods(http.MethodGet)
}

type sendSignalReq struct {
	Role    models.Role     `json:"role"`
	Payload json.RawMessage `json:"payload"`
}

func sendSignal(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	var req sendSignalReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if len(req.Payload) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "payload required")
		return
	}
	env, err := relay.Send(sessionID, req.Role, req.Payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, env)
}

// streamSignals replays the lane from its beginning and then follows it
// live; the stream ends when the session turns terminal.
func streamSignals(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sub, err := relay.Subscribe(r.Context(), vars["sessionID"], models.Role(vars["role"]))
	if err != nil {
		writeErr(w, err)
		return
	}
	flusher := sseStart(w)
	if flusher == nil {
		return
	}
	for env := range sub {
		sseEvent(w, "signal", env)
		flusher.Flush()
	}
}
