package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/utils"
)

// RegisterPresence registers heartbeat and profile endpoints.
func RegisterPresence(r *mux.Router) {
	r.HandleFunc("/presence/{userID}/heartbeat", heartbeat).Methods(http.MethodPost)
	r.HandleFunc("/presence/{userID}/profile", putProfile).Methods(http.MethodPut)
	r.HandleFunc("/presence/{userID}", getPresence).Methods(http.MethodGet)
}

func heartbeat(w http.ResponseWriter, r *http.Request) {
	presence.Heartbeat(mux.Vars(r)["userID"])
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

type profileReq struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func putProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	var req profileReq
	if decodeJSON(w, r, &req) != nil {
		return
	}
	if err := presence.SetProfile(userID, req.Name, req.Avatar); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func getPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	u, err := presence.Get(userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		User   models.User `json:"user"`
		Online bool        `json:"online"`
	}{User: u, Online: presence.IsOnline(u, time.Now())})
}
