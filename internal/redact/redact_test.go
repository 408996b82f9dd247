package redact

import (
	"testing"
)

func TestScrubNoOpWithoutConfiguredCredentials(t *testing.T) {
	f := &Filter{replacements: map[string]string{}}
	if got := f.Scrub("nothing to see here"); got != "nothing to see here" {
		t.Fatalf("got %q", got)
	}
}

func TestScrubReplacesKnownValue(t *testing.T) {
	f := &Filter{replacements: map[string]string{"s3cr3t-token": "[REDACTED:AFKD_CRED_API]"}}
	got := f.Scrub("the token is s3cr3t-token, keep it safe")
	want := "the token is [REDACTED:AFKD_CRED_API], keep it safe"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
