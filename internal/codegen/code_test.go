package codegen

import (
	"regexp"
	"testing"
)

var codePattern = regexp.MustCompile(`^[0-9A-F]{3}-[0-9A-F]{3}$`)

func TestGenerateFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !codePattern.MatchString(code) {
			t.Fatalf("code %q does not match XXX-XXX uppercase hex", code)
		}
	}
}

func TestGenerateIsRandom(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		seen[code] = true
	}
	if len(seen) < 40 {
		t.Fatalf("expected mostly-unique codes across 50 draws, got %d unique", len(seen))
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"abc-123": "ABC-123",
		" ABC-123 ": "ABC-123",
		"AbC-DeF": "ABC-DEF",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
