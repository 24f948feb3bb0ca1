package models

// User holds the presence document for one identity. The id is issued by
// an external identity provider; this core trusts it unconditionally.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	// LastActiveTS is the last heartbeat timestamp (ns). Only the owning
	// client writes it; peers derive the online flag from it.
	LastActiveTS int64 `json:"last_active_ts,omitempty"`
}
