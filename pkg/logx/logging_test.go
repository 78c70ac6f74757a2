package logx

import "testing"

func TestNewConsoleLevel(t *testing.T) {
	tests := []struct {
		level string
		on    Level
		off   Level
	}{
		{"error", LevelError, LevelWarn},
		{" Debug ", LevelDebug, LevelTrace},
		{"bogus", LevelInfo, LevelDebug},
	}
	for _, tc := range tests {
		l := NewConsole(tc.level)
		if !l.Enabled(tc.on) || l.Enabled(tc.off) {
			t.Fatalf("NewConsole(%q): enabled(%s)=%v enabled(%s)=%v", tc.level, tc.on, l.Enabled(tc.on), tc.off, l.Enabled(tc.off))
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger should report IsZero")
	}
	l.With(String("k", "v")).Info("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop is a configured logger")
	}
}
