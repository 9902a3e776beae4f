package logx

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"Warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	if enabled(LevelInfo) {
		t.Error("info should be dropped at warn level")
	}
	if !enabled(LevelError) {
		t.Error("error should pass at warn level")
	}

	SetLevel(LevelDebug)
	if !enabled(LevelDebug) {
		t.Error("debug should pass at debug level")
	}
}
