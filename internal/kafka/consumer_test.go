package kafka

import "testing"

func TestOutboxPayload(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"expanded", `{"run_id":"r1"}`, `{"run_id":"r1"}`},
		{"string encoded", `"{\"run_id\":\"r1\"}"`, `{"run_id":"r1"}`},
		{"empty", ``, ``},
		{"broken string kept", `"{`, `"{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(OutboxPayload([]byte(tt.in))); got != tt.want {
				t.Fatalf("OutboxPayload(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
