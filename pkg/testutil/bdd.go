package testutil

import "testing"

// Given names the precondition of a verification scenario as a subtest.
// Scenarios nest Given, When and Then so failures read as the broken step.
func Given(t *testing.T, precondition string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+precondition, fn)
}

// When names the request a scenario sends.
func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+action, fn)
}

// Then names the staged outcome a scenario expects.
func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+outcome, fn)
}
