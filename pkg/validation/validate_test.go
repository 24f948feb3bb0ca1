package validation

import (
	"strings"
	"testing"
)

func TestValidateMessageText(t *testing.T) {
	t.Cleanup(func() { SetRules(Rules{}) })

	if err := ValidateMessageText("hello"); err != nil {
		t.Fatalf("valid text rejected: %v", err)
	}
	if err := ValidateMessageText(""); err == nil {
		t.Fatal("empty text must be rejected")
	}
	if err := ValidateMessageText(string([]byte{0xff, 0xfe})); err == nil {
		t.Fatal("invalid utf-8 must be rejected")
	}
	if err := ValidateMessageText(strings.Repeat("a", defaultMaxTextBytes+1)); err == nil {
		t.Fatal("oversized text must be rejected under the default cap")
	}

	SetRules(Rules{MaxTextBytes: 10})
	if err := ValidateMessageText(strings.Repeat("a", 11)); err == nil {
		t.Fatal("oversized text must be rejected under a custom cap")
	}
	if err := ValidateMessageText(strings.Repeat("a", 10)); err != nil {
		t.Fatalf("text at the cap must pass: %v", err)
	}
}
