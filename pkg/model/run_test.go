package model

import "testing"

func TestRunStatusTerminal(t *testing.T) {
	if RunRunning.Terminal() {
		t.Fatal("running must not be terminal")
	}
	for _, status := range []RunStatus{RunSucceeded, RunPartial, RunFailed} {
		if !status.Terminal() {
			t.Fatalf("%s must be terminal", status)
		}
	}
}

func TestRunStatusExitCode(t *testing.T) {
	if code := RunSucceeded.ExitCode(); code != 0 {
		t.Fatalf("succeeded must exit 0, got %d", code)
	}
	if code := RunPartial.ExitCode(); code != 2 {
		t.Fatalf("partial must exit 2, got %d", code)
	}
	if code := RunFailed.ExitCode(); code != 1 {
		t.Fatalf("failed must exit 1, got %d", code)
	}
	if code := RunRunning.ExitCode(); code != 1 {
		t.Fatalf("a non-terminal status must exit 1, got %d", code)
	}
}
