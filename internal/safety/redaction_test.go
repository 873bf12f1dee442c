package safety

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestPreviewTruncatesAfterRedaction(t *testing.T) {
	got := Preview("reach me at sam@example.com about my headache", 20)
	if strings.Contains(got, "sam@example.com") {
		t.Fatalf("Preview() leaked email: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("Preview() = %q, want truncated", got)
	}
	if got := Preview("short", 20); got != "short" {
		t.Fatalf("Preview(short) = %q", got)
	}
}
