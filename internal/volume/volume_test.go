package volume

import "testing"

func TestSanitizeIdempotentAndCharset(t *testing.T) {
	inputs := []string{"s1", "weird id!@#", "already-safe_123.x", "日本語"}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize(%q) not idempotent: %q vs %q", in, once, twice)
		}
		for _, r := range once {
			ok := r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-'
			if !ok {
				t.Errorf("Sanitize(%q) = %q contains disallowed rune %q", in, once, r)
			}
		}
	}
}
