package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/gorilla/mux"

	"chatrelay/pkg/models"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/thread"
	"chatrelay/pkg/utils"
	"chatrelay/pkg/validation"
)

var disp *notify.Dispatcher

// RegisterThreads registers thread and message endpoints.
func RegisterThreads(r *mux.Router, d *notify.Dispatcher) {
	disp = d

	r.HandleFunc("/threads", createThread).Methods(http.MethodPost)
	r.HandleFunc("/threads", listThreads).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}", getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}/events", streamThread).Methods(http.MethodGet)

	r.HandleFunc("/threads/{threadID}/messages", postMessage).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadID}/messages", listMessages).Methods(http.MethodGet)

	r.HandleFunc("/threads/{threadID}/open", openThread).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadID}/leave", leaveThread).Methods(http.MethodPost)
}

type createThreadReq struct {
	Participants []string                  `json:"participants"`
	Profiles     map[string]models.Profile `json:"profiles"`
}

// createThread ensures the conversation document for a pair exists. The
// id is derived from the pair, so repeated creates converge on the same
// thread.
func createThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if len(req.Participants) != 2 {
		utils.JSONError(w, http.StatusBadRequest, "exactly two participants required")
		return
	}
	id := thread.ID(req.Participants[0], req.Participants[1])
	if err := thread.Ensure(id, req.Participants, req.Profiles); err != nil {
		writeErr(w, err)
		return
	}
	t, err := thread.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("thread_ensured", "thread", id)
	_ = utils.JSONWrite(w, http.StatusOK, t)
}

func listThreads(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		utils.JSONError(w, http.StatusBadRequest, "user query parameter required")
		return
	}
	ts, err := thread.ListForParticipant(user)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Threads []models.Thread `json:"threads"`
	}{Threads: ts})
}

func getThread(w http.ResponseWriter, r *http.Request) {
	t, err := thread.Get(mux.Vars(r)["threadID"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, t)
}

type postMessageReq struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	// Participants allows lazy thread creation on first message.
	Participants []string                  `json:"participants,omitempty"`
	Profiles     map[string]models.Profile `json:"profiles,omitempty"`
}

func postMessage(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req postMessageReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if req.Sender == "" {
		utils.JSONError(w, http.StatusBadRequest, "sender required")
		return
	}
	if err := validation.ValidateMessageText(req.Text); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := thread.Append(threadID, req.Sender, req.Text, false)
	if errors.Is(err, thread.ErrNotFound) && len(req.Participants) == 2 {
		if err = thread.Ensure(threadID, req.Participants, req.Profiles); err == nil {
			m, err = thread.Append(threadID, req.Sender, req.Text, false)
		}
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("message_created", "thread", threadID, "id", m.ID)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func listMessages(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 {
			limit = lim
		}
	}
	msgs, err := thread.Messages(threadID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread   string           `json:"thread"`
		Messages []models.Message `json:"messages"`
	}{Thread: threadID, Messages: msgs})
}

type actorReq struct {
	User string `json:"user"`
}

// openThread marks the thread read for the user and suppresses pushes
// for it while they keep it open.
func openThread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req actorReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if req.User == "" {
		utils.JSONError(w, http.StatusBadRequest, "user required")
		return
	}
	if err := thread.Open(threadID, req.User); err != nil {
		writeErr(w, err)
		return
	}
	if disp != nil {
		disp.SetViewing(req.User, threadID)
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func leaveThread(w http.ResponseWriter, r *http.Request) {
	var req actorReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if disp != nil {
		disp.SetViewing(req.User, "")
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

// streamThread pushes the thread document over SSE on every change,
// starting with the current state.
func streamThread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	flusher := sseStart(w)
	if flusher == nil {
		return
	}
	for t := range thread.Subscribe(r.Context(), threadID) {
		sseEvent(w, "thread", t)
		flusher.Flush()
	}
}
