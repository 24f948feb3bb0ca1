package models

// Profile is the display metadata snapshotted into a thread at creation
// time. First writer wins; it is never overwritten afterwards.
type Profile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Thread is a persisted 1:1 conversation. Its ID is a deterministic,
// order-independent function of the two participant ids, so both parties
// converge on the same document without coordination.
type Thread struct {
	ID string `json:"id"`
	// Participants holds exactly two ids in sorted order.
	Participants []string `json:"participants"`
	// Profiles maps participant id -> display snapshot taken at creation.
	Profiles map[string]Profile `json:"profiles,omitempty"`
	// UnreadCounts maps participant id -> unread message count. Exactly one
	// entry per participant, both zero on creation.
	UnreadCounts map[string]int64 `json:"unread_counts"`
	// Preview fields for the conversation list.
	LastMessage       string `json:"last_message,omitempty"`
	LastMessageSender string `json:"last_message_sender,omitempty"`
	LastMessageTS     int64  `json:"last_message_ts,omitempty"`
	CreatedTS         int64  `json:"created_ts,omitempty"`
}

// Other returns the participant id that is not self, or "" when self is
// not a participant.
func (t *Thread) Other(self string) string {
	for _, p := range t.Participants {
		if p != self {
			return p
		}
	}
	return ""
}

// Has reports whether id is one of the thread's participants.
func (t *Thread) Has(id string) bool {
	for _, p := range t.Participants {
		if p == id {
			return true
		}
	}
	return false
}
