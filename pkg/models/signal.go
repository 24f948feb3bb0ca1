package models

import "encoding/json"

// SignalEnvelope is one opaque unit of negotiation data exchanged during
// a call session. The relay never inspects Payload. Envelopes are
// partitioned first by session id, then by producer role, forming two
// independent ordered lanes per session.
type SignalEnvelope struct {
	Session string          `json:"session"`
	Role    Role            `json:"role"`
	Payload json.RawMessage `json:"payload"`
	TS      int64           `json:"ts"`
}
