package channel

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSMSAdapter_SendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	adapter := NewSMSAdapter(SMSConfig{GatewayURL: srv.URL, From: "+15550000000"}, allEnabled(), srv.Client(), testLogger())
	pmid, err := adapter.Send(contextBackground(), "+15551234567", "", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pmid != "SM123" {
		t.Errorf("provider message id = %q, want SM123", pmid)
	}
}

func TestSMSAdapter_BadRequestIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"INVALID_RECIPIENT"}`))
	}))
	defer srv.Close()

	adapter := NewSMSAdapter(SMSConfig{GatewayURL: srv.URL, From: "+15550000000"}, allEnabled(), srv.Client(), testLogger())
	_, err := adapter.Send(contextBackground(), "notaphone", "", "hello")
	sendErr, ok := err.(*SendError)
	if !ok || sendErr.Retryable {
		t.Fatalf("expected a terminal SendError, got %v", err)
	}
}

func TestSMSAdapter_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := NewSMSAdapter(SMSConfig{GatewayURL: srv.URL, From: "+15550000000"}, allEnabled(), srv.Client(), testLogger())
	_, err := adapter.Send(contextBackground(), "+15551234567", "", "hello")
	sendErr, ok := err.(*SendError)
	if !ok || !sendErr.Retryable {
		t.Fatalf("expected a retryable SendError, got %v", err)
	}
}

func TestNormalizeE164(t *testing.T) {
	cases := map[string]string{
		"+15551234567": "+15551234567",
		"5551234567":   "+5551234567",
		"89161234567":  "+79161234567",
		"+7 916 123 45 67": "+79161234567",
	}
	for in, want := range cases {
		if got := normalizeE164(in); got != want {
			t.Errorf("normalizeE164(%q) = %q, want %q", in, got, want)
		}
	}
}
