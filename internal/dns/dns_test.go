package dns

import (
	"context"
	"testing"
)

func TestLookupLiterals(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1", "127.0.0.1"},
		{"::1", "::1"},
		{"[2001:db8::1]", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Lookup(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLookupLocalhost(t *testing.T) {
	got, err := Lookup(context.Background(), "localhost")
	if err != nil {
		t.Skipf("no local resolver: %v", err)
	}
	if got == "" {
		t.Error("Lookup(localhost) returned an empty address")
	}
}
