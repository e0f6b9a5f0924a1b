package client

import "testing"

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Initializing, Ready, true},
		{Initializing, Errored, true},
		{Initializing, Searching, false},
		{Ready, Searching, true},
		{Ready, Connected, false},
		{Searching, Connecting, true},
		{Searching, Ready, true},
		{Searching, Connected, false},
		{Connecting, Connected, true},
		{Connecting, Disconnected, true},
		{Connected, Disconnected, true},
		{Connected, Searching, false},
		{Connected, Reconnecting, true},
		{Reconnecting, Connected, true},
		{Reconnecting, Searching, true},
		{Reconnecting, Disconnected, true},
		{Disconnected, Ready, true},
		{Disconnected, Connected, false},
		{Errored, Ready, false},
		{Errored, Disconnected, false},
	}
	for _, tc := range tests {
		if got := allowed(tc.from, tc.to); got != tc.ok {
			t.Errorf("%v → %v: want %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestErroredIsTerminal(t *testing.T) {
	for to := Initializing; to <= Disconnected; to++ {
		if allowed(Errored, to) {
			t.Errorf("error state must not self-heal into %v", to)
		}
	}
}
