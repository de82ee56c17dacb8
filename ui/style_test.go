package ui

import (
	"strings"
	"testing"
)

func TestStylesKeepText(t *testing.T) {
	tests := []struct {
		name     string
		rendered string
		text     string
	}{
		{"colorize", Colorize("sodium", 0x1bd96a), "sodium"},
		{"success", Success("ok"), "ok"},
		{"failure", Failure("failed"), "failed"},
		{"muted", Muted("skipped"), "skipped"},
		{"heading", Heading("Results"), "Results"},
	}
	for _, tt := range tests {
		if !strings.Contains(tt.rendered, tt.text) {
			t.Errorf("%s: rendered %q lost its text", tt.name, tt.rendered)
		}
	}
}

func TestVerdict(t *testing.T) {
	if got := Verdict(true); !strings.Contains(got, "compatible") || strings.Contains(got, "incompatible") {
		t.Errorf("Verdict(true) = %q", got)
	}
	if got := Verdict(false); !strings.Contains(got, "incompatible") {
		t.Errorf("Verdict(false) = %q", got)
	}
}
