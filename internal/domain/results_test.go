package domain

import "testing"

func TestActionResultAttempted(t *testing.T) {
	cases := map[string]bool{
		ActionNone:             false,
		"":                     true,
		"retry_emr":            true,
		ActionError:            true,
		ActionValidationFailed: true,
	}
	for action, want := range cases {
		if got := (ActionResult{Action: action}).Attempted(); got != want {
			t.Fatalf("Attempted(%q) = %v, want %v", action, got, want)
		}
	}
}
