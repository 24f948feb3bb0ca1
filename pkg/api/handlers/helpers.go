package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatrelay/pkg/call"
	"chatrelay/pkg/relay"
	"chatrelay/pkg/store"
	"chatrelay/pkg/thread"
	"chatrelay/pkg/utils"
)

// decodeJSON decodes the request body into v, replying 400 on bad input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return err
	}
	return nil
}

// writeErr maps domain sentinels onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, call.ErrAlreadyInCall):
		status = http.StatusConflict
	case errors.Is(err, call.ErrStaleSession):
		status = http.StatusConflict
	case errors.Is(err, relay.ErrSessionClosed):
		status = http.StatusGone
	case errors.Is(err, relay.ErrPayloadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, thread.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, thread.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, thread.ErrMutationFailed):
		status = http.StatusServiceUnavailable
	}
	utils.JSONError(w, status, err.Error())
}

// sseStart switches the response into an event stream. A nil flusher
// means the transport cannot stream and an error was already written.
func sseStart(w http.ResponseWriter) http.Flusher {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher
}

func sseEvent(w http.ResponseWriter, event string, v interface{}) {
	b, _ := json.Marshal(v)
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
}
