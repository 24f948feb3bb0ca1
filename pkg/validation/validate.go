// Package validation enforces limits on user-supplied message content
// before it reaches the store.
package validation

import (
	"fmt"
	"sync"
	"unicode/utf8"
)

// Rules holds the configurable content limits.
type Rules struct {
	// MaxTextBytes caps the encoded size of one message text. Zero
	// means the default.
	MaxTextBytes int
}

const defaultMaxTextBytes = 16 * 1024

var (
	rulesMu sync.RWMutex
	rules   Rules
)

// SetRules installs the global content limits.
func SetRules(r Rules) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	rules = r
}

// ValidateMessageText checks a message body against the installed rules.
func ValidateMessageText(text string) error {
	if text == "" {
		return fmt.Errorf("message text is empty")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message text is not valid utf-8")
	}
	rulesMu.RLock()
	max := rules.MaxTextBytes
	rulesMu.RUnlock()
	if max <= 0 {
		max = defaultMaxTextBytes
	}
	if len(text) > max {
		return fmt.Errorf("message text exceeds %d bytes", max)
	}
	return nil
}
