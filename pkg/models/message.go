package models

// Message is one append-only log entry in a thread. Immutable once
// written; TS is the strictly increasing per-thread ordering key.
type Message struct {
	ID     string `json:"id"`
	Thread string `json:"thread"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	TS     int64  `json:"ts"`
	// System marks generated notices (e.g. missed-call entries) as opposed
	// to user-typed text.
	System bool `json:"system,omitempty"`
}
