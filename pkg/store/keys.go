package store

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Key layout:
//
//	user:<id>                           presence document
//	thread:<id>:meta                    thread document
//	thread:<id>:msg:<ts20>-<seq12>      message log entry
//	call:<threadID>:active              active-call slot (session id)
//	call:session:<sessionID>            call session document
//	signal:<sessionID>:<role>:<ts20>-<seq12>  one signal lane entry
//
// Log keys sort lexicographically by insertion time; seq breaks ties when
// multiple entries share the same nanosecond timestamp.

// seq is a small counter to reduce key collisions when multiple log
// entries share the same nanosecond timestamp.
var seq uint64

// LogKey returns a sortable log suffix for the given timestamp (ns). The
// sequence field is wide enough that the counter cannot outgrow it over
// any realistic process lifetime, keeping the key width fixed.
func LogKey(ts int64) string {
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%020d-%012d", ts, s)
}

// NowKey returns a sortable log suffix for the current time plus the
// timestamp it encodes.
func NowKey() (string, int64) {
	ts := time.Now().UTC().UnixNano()
	return LogKey(ts), ts
}

// UserKey returns the presence document key for a user id.
func UserKey(id string) string { return "user:" + id }

// ThreadKey returns the metadata key for a thread id.
func ThreadKey(id string) string { return "thread:" + id + ":meta" }

// MessagePrefix returns the log prefix for a thread's messages.
func MessagePrefix(threadID string) string { return "thread:" + threadID + ":msg:" }

// ActiveCallKey returns the active-call slot key for a thread.
func ActiveCallKey(threadID string) string { return "call:" + threadID + ":active" }

// SessionKey returns the document key for a call session id.
func SessionKey(sessionID string) string { return "call:session:" + sessionID }

// SessionPrefix is the common prefix of all call session documents.
const SessionPrefix = "call:session:"

// SignalPrefix returns the lane prefix for one session and producer role.
func SignalPrefix(sessionID, role string) string {
	return "signal:" + sessionID + ":" + role + ":"
}

// SignalSessionPrefix returns the prefix covering both of a session's
// signal lanes.
func SignalSessionPrefix(sessionID string) string { return "signal:" + sessionID + ":" }
