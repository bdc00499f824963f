package natsutil

import "testing"

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix string
		tokens []string
		want   string
	}{
		{"tickstore", []string{"migration"}, "tickstore.migration"},
		{"tickstore.", []string{"quota", "warn"}, "tickstore.quota.warn"},
		{"", []string{"delete"}, "delete"},
		{"tickstore", []string{"BRK.B"}, "tickstore.BRK_B"},
		{"tickstore", []string{"", "x*>"}, "tickstore.x__"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.tokens...); got != tt.want {
			t.Errorf("Subject(%q, %v) = %q, want %q", tt.prefix, tt.tokens, got, tt.want)
		}
	}
}
