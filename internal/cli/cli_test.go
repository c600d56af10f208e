package cli

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseTime("1709251200")
	if err != nil || !got.Equal(want) {
		t.Fatalf("unix seconds: got %s (%v)", got, err)
	}

	got, err = parseTime("2024-03-01T01:00:00+01:00")
	if err != nil || !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("rfc3339: got %s (%v)", got, err)
	}

	if _, err := parseTime("yesterday"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"generate", "reconcile", "migrate", "run", "show", "export", "simulate-alert", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered (%v)", name, err)
		}
	}
}
