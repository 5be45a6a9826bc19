package task

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusDone, true},
		{StatusQueued, StatusFailed, true},
		{StatusProcessing, StatusFailed, true},

		{StatusQueued, StatusDone, false},
		{StatusQueued, StatusQueued, false},
		{StatusProcessing, StatusQueued, false},

		// Terminal states are sticky.
		{StatusDone, StatusProcessing, false},
		{StatusDone, StatusFailed, false},
		{StatusDone, StatusDone, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusDone, false},
		{StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
	for _, s := range []Status{StatusDone, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
}
