package logger

import "testing"

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"al@example.com", "***@example.com"},
		{"a@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactValue(t *testing.T) {
	// Email-named fields are masked outright.
	if got := redactValue("recipient_email", "john.doe@example.com"); got != "jo***@example.com" {
		t.Errorf("redactValue(email field) = %q", got)
	}
	// Emails embedded in other values are found and masked.
	got := redactValue("error", "rejected recipient carol.s@example.com by policy")
	want := "rejected recipient ca***@example.com by policy"
	if got != want {
		t.Errorf("redactValue(embedded) = %q, want %q", got, want)
	}
	// Values without emails pass through unchanged.
	if got := redactValue("campaign", "Summer Sale"); got != "Summer Sale" {
		t.Errorf("redactValue(plain) = %q", got)
	}
}
