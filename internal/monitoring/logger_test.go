package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...any) { got = format })
	Logf("session %s persisted")
	if got != "session %s persisted" {
		t.Errorf("custom logger not called, got %q", got)
	}

	// nil installs a no-op, not a nil func.
	SetLogger(nil)
	if Logf == nil {
		t.Fatal("Logf is nil after SetLogger(nil)")
	}
	got = ""
	Logf("dropped")
	if got != "" {
		t.Errorf("no-op logger called previous hook: %q", got)
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should default to a usable logger")
	}
}
