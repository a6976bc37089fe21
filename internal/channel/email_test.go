package channel

import (
	"errors"
	"testing"
)

func TestIsHTML(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{"plain text message", false},
		{"Your code is 123456", false},
		{"<html><body>hi</body></html>", true},
		{"<!DOCTYPE html><p>hi</p>", true},
		{"line one<br>line two", true},
	}
	for _, c := range cases {
		if got := isHTML(c.body); got != c.want {
			t.Errorf("isHTML(%q) = %v, want %v", c.body, got, c.want)
		}
	}
}

func TestIsRetryableSMTPError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"550 invalid recipient address", false},
		{"550 5.1.1 user unknown", false},
		{"no such user here", false},
		{"421 service not available, timed out", true},
		{"connection refused", true},
	}
	for _, c := range cases {
		if got := isRetryableSMTPError(errors.New(c.msg)); got != c.want {
			t.Errorf("isRetryableSMTPError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestEmailAdapter_NotConfiguredRejectsImmediately(t *testing.T) {
	adapter := NewEmailAdapter(EmailConfig{}, allEnabled(), testLogger())
	if adapter.IsConfigured() {
		t.Fatal("expected an EmailConfig with no host/from to report unconfigured")
	}
	_, err := adapter.Send(contextBackground(), "a@b.com", "s", "body")
	sendErr, ok := err.(*SendError)
	if !ok || sendErr.Code != "NOT_CONFIGURED" || sendErr.Retryable {
		t.Fatalf("expected a terminal NOT_CONFIGURED error, got %v", err)
	}
}

func TestEmailAdapter_NameAndEnabled(t *testing.T) {
	adapter := NewEmailAdapter(EmailConfig{Host: "smtp.test", From: "noreply@test"}, allEnabled(), testLogger())
	if adapter.Name() != "EMAIL" {
		t.Errorf("Name() = %q, want EMAIL", adapter.Name())
	}
	if !adapter.IsEnabled(contextBackground()) {
		t.Error("expected EMAIL to be enabled via the fake config lookup")
	}
}
