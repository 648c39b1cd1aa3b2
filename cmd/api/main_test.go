package main

import "testing"

func TestRollbackSteps(t *testing.T) {
	tests := []struct {
		name      string
		flagValue int
		steps     int
		ok        bool
	}{
		{name: "unset serves", flagValue: 0, steps: 0, ok: false},
		{name: "newest two", flagValue: 2, steps: 2, ok: true},
		{name: "negative reverts all", flagValue: -1, steps: 0, ok: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			steps, ok := rollbackSteps(tc.flagValue)
			if steps != tc.steps || ok != tc.ok {
				t.Fatalf("rollbackSteps(%d) = (%d, %v), want (%d, %v)", tc.flagValue, steps, ok, tc.steps, tc.ok)
			}
		})
	}
}
