package mask

import "testing"

func TestRecipient_Email(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"abcdef@example.com", "ab***@example.com"},
		{"jo@example.com", "***@example.com"},
		{"a@example.com", "***@example.com"},
	}
	for _, c := range cases {
		if got := Recipient("EMAIL", c.in); got != c.want {
			t.Errorf("Recipient(EMAIL, %q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRecipient_Generic(t *testing.T) {
	cases := []struct {
		channel string
		in      string
		want    string
	}{
		{"SMS", "+15551234567", "+155***67"},
		{"TELEGRAM", "abc", "***"},
		{"SMS", "12345", "***"},
	}
	for _, c := range cases {
		if got := Recipient(c.channel, c.in); got != c.want {
			t.Errorf("Recipient(%s, %q) = %q, want %q", c.channel, c.in, got, c.want)
		}
	}
}
