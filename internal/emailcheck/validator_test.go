package emailcheck

import (
	"strings"
	"testing"

	"github.com/FranksOps/mailmark/internal/rules"
)

func TestValidator_Check(t *testing.T) {
	v := New(rules.Default())

	tests := []struct {
		name       string
		input      string
		wantOK     bool
		wantReason string
	}{
		{"provider", "jane.doe@gmail.com", true, ""},
		{"company", "jane.doe@acme.io", true, ""},
		{"noreply", "noreply@service.com", false, ReasonDenylist},
		{"hex local", "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4@x.com", false, ReasonHexRun},
		{"not an email", "jane.doe", false, ReasonShape},
		{"no tld", "jane@localhost", false, ReasonShape},
		{"spaces inside", "jane doe@gmail.com", false, ReasonShape},
		{"denylist case", "SUPPORT@acme.io", false, ReasonDenylist},
		{"two plus signs", "jane+a+b@acme.io", false, ReasonPlusSigns},
		{"one plus sign", "jane+news@acme.io", true, ""},
		{"digit local", "1234567890@acme.io", false, ReasonDigits},
		{"long tld", "jane@acme.verylongtld", false, ReasonLongTLD},
		{"short local", "j@acme.io", false, ReasonLength},
		{"short local on provider", "j@gmail.com", true, ""},
		{"long local", strings.Repeat("a", 31) + "@acme.io", false, ReasonLength},
		{"long domain", "jane@" + strings.Repeat("x", 48) + ".io", false, ReasonLength},
		{"pure hex local", "deadbeef@acme.io", false, ReasonSuspicious},
		{"pure digits local", "123456@acme.io", false, ReasonSuspicious},
		{"underscores", "a__________b@acme.io", false, ReasonSuspicious},
		{"dots", "a.....b@acme.io", false, ReasonSuspicious},
		{"trimmed", "  jane.doe@gmail.com  ", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := v.Check(tt.input)
			if ok != tt.wantOK {
				t.Errorf("Check(%q) ok = %v, want %v (reason %q)", tt.input, ok, tt.wantOK, reason)
			}
			if reason != tt.wantReason {
				t.Errorf("Check(%q) reason = %q, want %q", tt.input, reason, tt.wantReason)
			}
		})
	}
}

func TestValidator_CustomDenylist(t *testing.T) {
	r := rules.Default()
	r.Denylist = []string{"spam"}
	v := New(r)

	if v.Valid("spammer@acme.io") {
		t.Errorf("expected custom denylist to reject")
	}
	if !v.Valid("tester@acme.io") {
		t.Errorf("expected default denylist word to be allowed once replaced")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  Jane.Doe@Gmail.COM "); got != "jane.doe@gmail.com" {
		t.Errorf("unexpected normalization: %q", got)
	}
}
