package models

// CallType distinguishes audio-only from video calls.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool { return t == CallAudio || t == CallVideo }

// Role identifies which party produced a signal or action. It is assigned
// once at session creation and propagated immutably.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleCaller {
		return RoleCallee
	}
	return RoleCaller
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleCaller || r == RoleCallee }

// CallState is the lifecycle state of a call session. Values are part of
// the public API; keep them stable.
type CallState string

const (
	CallOffering   CallState = "offering"
	CallConnecting CallState = "connecting"
	CallConnected  CallState = "connected"
	CallEnded      CallState = "ended"
	CallDeclined   CallState = "declined"
	CallMissed     CallState = "missed"
)

// Terminal reports whether s admits no further transitions.
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallDeclined || s == CallMissed
}

// CallSession is one attempt to establish a peer connection. The ID is
// globally unique per attempt and never reused, even for an immediate
// redial on the same thread: stale signaling data from an abandoned
// attempt stays partitioned under the old id and is structurally
// unreachable by the new one.
type CallSession struct {
	ID         string    `json:"id"`
	Thread     string    `json:"thread"`
	CallerID   string    `json:"caller_id"`
	CallerName string    `json:"caller_name,omitempty"`
	CalleeID   string    `json:"callee_id"`
	CalleeName string    `json:"callee_name,omitempty"`
	Type       CallType  `json:"type"`
	State      CallState `json:"state"`
	CreatedTS  int64     `json:"created_ts"`
	EndedTS    int64     `json:"ended_ts,omitempty"`
	EndedBy    string    `json:"ended_by,omitempty"`
}

// RoleOf returns the role userID plays in the session, or "" for a
// non-participant.
func (s *CallSession) RoleOf(userID string) Role {
	switch userID {
	case s.CallerID:
		return RoleCaller
	case s.CalleeID:
		return RoleCallee
	}
	return ""
}
