package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/pkg/call"
	"chatrelay/pkg/models"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	coord := call.New(call.Config{})
	disp := notify.New(notify.Config{}, nil)
	srv := httptest.NewServer(Handler(coord, disp))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestThreadMessageFlow(t *testing.T) {
	srv := newTestServer(t)

	var created models.Thread
	code := doJSON(t, http.MethodPost, srv.URL+"/v1/threads", map[string]interface{}{
		"participants": []string{"alice", "bob"},
		"profiles": map[string]models.Profile{
			"alice": {Name: "Alice"},
			"bob":   {Name: "Bob"},
		},
	}, &created)
	if code != http.StatusOK {
		t.Fatalf("create thread status %d", code)
	}
	if len(created.Participants) != 2 || created.UnreadCounts["alice"] != 0 {
		t.Fatalf("unexpected thread %+v", created)
	}
	tid := created.ID

	// creating again converges on the same thread
	var again models.Thread
	doJSON(t, http.MethodPost, srv.URL+"/v1/threads", map[string]interface{}{
		"participants": []string{"bob", "alice"},
	}, &again)
	if again.ID != tid {
		t.Fatalf("thread id not stable: %s vs %s", again.ID, tid)
	}

	var msg models.Message
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/threads/"+tid+"/messages", map[string]string{
		"sender": "alice", "text": "hello bob",
	}, &msg)
	if code != http.StatusOK {
		t.Fatalf("post message status %d", code)
	}
	if msg.Text != "hello bob" || msg.Sender != "alice" {
		t.Fatalf("unexpected message %+v", msg)
	}

	var after models.Thread
	doJSON(t, http.MethodGet, srv.URL+"/v1/threads/"+tid, nil, &after)
	if after.UnreadCounts["bob"] != 1 || after.LastMessage != "hello bob" {
		t.Fatalf("counter/preview not updated: %+v", after)
	}

	// opening resets bob's counter
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/threads/"+tid+"/open", map[string]string{"user": "bob"}, nil)
	if code != http.StatusOK {
		t.Fatalf("open status %d", code)
	}
	doJSON(t, http.MethodGet, srv.URL+"/v1/threads/"+tid, nil, &after)
	if after.UnreadCounts["bob"] != 0 {
		t.Fatalf("open did not reset unread: %+v", after)
	}

	var listing struct {
		Threads []models.Thread `json:"threads"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/v1/threads?user=alice", nil, &listing)
	if len(listing.Threads) != 1 || listing.Threads[0].ID != tid {
		t.Fatalf("listing %+v", listing)
	}
}

func TestMessageValidation(t *testing.T) {
	srv := newTestServer(t)

	code := doJSON(t, http.MethodPost, srv.URL+"/v1/threads", map[string]interface{}{
		"participants": []string{"alice"},
	}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("one participant status %d, want 400", code)
	}

	code = doJSON(t, http.MethodPost, srv.URL+"/v1/threads/nope/messages", map[string]string{
		"sender": "alice", "text": "",
	}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("empty text status %d, want 400", code)
	}

	code = doJSON(t, http.MethodPost, srv.URL+"/v1/threads/nope/messages", map[string]string{
		"sender": "alice", "text": "hi",
	}, nil)
	if code != http.StatusNotFound {
		t.Fatalf("missing thread status %d, want 404", code)
	}

	code = doJSON(t, http.MethodGet, srv.URL+"/v1/threads/nope", nil, nil)
	if code != http.StatusNotFound {
		t.Fatalf("missing thread get status %d, want 404", code)
	}
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var created models.Thread
	doJSON(t, http.MethodPost, srv.URL+"/v1/threads", map[string]interface{}{
		"participants": []string{"alice", "bob"},
	}, &created)
	tid := created.ID

	var sess models.CallSession
	code := doJSON(t, http.MethodPost, srv.URL+"/v1/threads/"+tid+"/calls", map[string]string{
		"caller": "alice", "callee": "bob", "type": "video",
	}, &sess)
	if code != http.StatusOK || sess.State != models.CallOffering {
		t.Fatalf("start status %d session %+v", code, sess)
	}

	// second call while one is ringing
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/threads/"+tid+"/calls", map[string]string{
		"caller": "bob", "callee": "alice", "type": "audio",
	}, nil)
	if code != http.StatusConflict {
		t.Fatalf("concurrent start status %d, want 409", code)
	}

	var active struct {
		Active  bool               `json:"active"`
		Session models.CallSession `json:"session"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/v1/threads/"+tid+"/calls/active", nil, &active)
	if !active.Active || active.Session.ID != sess.ID {
		t.Fatalf("active %+v", active)
	}

	var joined models.CallSession
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/calls/"+sess.ID+"/join", map[string]string{"user": "bob"}, &joined)
	if code != http.StatusOK || joined.State != models.CallConnecting {
		t.Fatalf("join status %d session %+v", code, joined)
	}
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/calls/"+sess.ID+"/connected", map[string]string{}, nil)
	if code != http.StatusOK {
		t.Fatalf("connected status %d", code)
	}
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/calls/"+sess.ID+"/end", map[string]string{"user": "alice"}, nil)
	if code != http.StatusOK {
		t.Fatalf("end status %d", code)
	}

	var final models.CallSession
	doJSON(t, http.MethodGet, srv.URL+"/v1/calls/"+sess.ID, nil, &final)
	if final.State != models.CallEnded {
		t.Fatalf("final state %q, want ended", final.State)
	}

	// stale join after the call ended
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/calls/"+sess.ID+"/join", map[string]string{"user": "bob"}, nil)
	if code != http.StatusConflict {
		t.Fatalf("stale join status %d, want 409", code)
	}
}

func TestSignalRelayOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var created models.Thread
	doJSON(t, http.MethodPost, srv.URL+"/v1/threads", map[string]interface{}{
		"participants": []string{"alice", "bob"},
	}, &created)
	var sess models.CallSession
	doJSON(t, http.MethodPost, srv.URL+"/v1/threads/"+created.ID+"/calls", map[string]string{
		"caller": "alice", "callee": "bob", "type": "audio",
	}, &sess)

	for i := 0; i < 3; i++ {
		code := doJSON(t, http.MethodPost, srv.URL+"/v1/calls/"+sess.ID+"/signals", map[string]interface{}{
			"role":    "caller",
			"payload": map[string]int{"seq": i},
		}, nil)
		if code != http.StatusOK {
			t.Fatalf("send %d status %d", i, code)
		}
	}

	resp, err := http.Get(srv.URL + "/v1/calls/" + sess.ID + "/signals/caller/events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	type lineResult struct {
		line string
		err  error
	}
	lines := make(chan lineResult)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- lineResult{line: sc.Text()}
		}
		lines <- lineResult{err: sc.Err()}
	}()
	var data []string
	deadline := time.After(3 * time.Second)
	for len(data) < 3 {
		select {
		case lr := <-lines:
			if lr.err != nil {
				t.Fatalf("stream read: %v", lr.err)
			}
			if strings.HasPrefix(lr.line, "data: ") {
				data = append(data, strings.TrimPrefix(lr.line, "data: "))
			}
		case <-deadline:
			t.Fatalf("only %d signals received", len(data))
		}
	}
	for i, d := range data {
		var env models.SignalEnvelope
		if err := json.Unmarshal([]byte(d), &env); err != nil {
			t.Fatalf("decode signal %d: %v", i, err)
		}
		if want := fmt.Sprintf(`{"seq":%d}`, i); string(env.Payload) != want {
			t.Fatalf("signal %d payload %s, want %s", i, env.Payload, want)
		}
	}

	// terminate, then the relay rejects new traffic
	doJSON(t, http.MethodPost, srv.URL+"/v1/calls/"+sess.ID+"/end", map[string]string{"user": "bob"}, nil)
	code := doJSON(t, http.MethodPost, srv.URL+"/v1/calls/"+sess.ID+"/signals", map[string]interface{}{
		"role": "caller", "payload": map[string]string{"late": "yes"},
	}, nil)
	if code != http.StatusGone {
		t.Fatalf("post-end send status %d, want 410", code)
	}
}

func TestPresenceOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	code := doJSON(t, http.MethodPut, srv.URL+"/v1/presence/alice/profile", map[string]string{
		"name": "Alice", "avatar": "avatars/alice.png",
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("profile status %d", code)
	}
	code = doJSON(t, http.MethodPost, srv.URL+"/v1/presence/alice/heartbeat", map[string]string{}, nil)
	if code != http.StatusOK {
		t.Fatalf("heartbeat status %d", code)
	}

	var got struct {
		User   models.User `json:"user"`
		Online bool        `json:"online"`
	}
	code = doJSON(t, http.MethodGet, srv.URL+"/v1/presence/alice", nil, &got)
	if code != http.StatusOK {
		t.Fatalf("get status %d", code)
	}
	if got.User.DisplayName != "Alice" || !got.Online {
		t.Fatalf("presence %+v", got)
	}

	code = doJSON(t, http.MethodGet, srv.URL+"/v1/presence/nobody", nil, nil)
	if code != http.StatusNotFound {
		t.Fatalf("unknown user status %d, want 404", code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}
