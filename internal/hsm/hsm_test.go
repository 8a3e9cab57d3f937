package hsm

import (
	"testing"

	"streamwsm/internal/model"
)

func TestCanTransitionStream(t *testing.T) {
	cases := []struct {
		from model.StreamStatus
		to   model.StreamStatus
		want bool
	}{
		{model.StreamStatusInitializing, model.StreamStatusActive, true},
		{model.StreamStatusActive, model.StreamStatusCompleted, true},
		{model.StreamStatusBlocked, model.StreamStatusActive, true},
		{model.StreamStatusCompleted, model.StreamStatusArchived, true},
		{model.StreamStatusCompleted, model.StreamStatusActive, false},
		{model.StreamStatusArchived, model.StreamStatusActive, false},
		{model.StreamStatusInitializing, model.StreamStatusCompleted, false},
		{model.StreamStatusPaused, model.StreamStatusPaused, true},
	}
	for _, tc := range cases {
		if got := CanTransitionStream(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionStream(%s, %s) = %t, want %t", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatus(t *testing.T) {
	if !TerminalStatus(model.StreamStatusCompleted) || !TerminalStatus(model.StreamStatusArchived) {
		t.Error("completed and archived should be terminal")
	}
	if TerminalStatus(model.StreamStatusActive) {
		t.Error("active should not be terminal")
	}
}
