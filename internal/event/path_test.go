package event

import (
	"strings"
	"testing"
)

func TestSanitizeDPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"basename deleted", "/etc/foo (deleted)", "/etc/foo"},
		{"no suffix", "/etc/foo", "/etc/foo"},
		{"suffix in directory name, not basename", "/etc/foo (deleted)/bar", "/etc/foo (deleted)/bar"},
		{"root file", "foo (deleted)", "foo"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		if got := SanitizeDPath(tt.in); got != tt.want {
			t.Errorf("%s: SanitizeDPath(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestSanitizeDPathIdempotentProperty(t *testing.T) {
	base := "/var/lib/app/data.db"
	if got, want := SanitizeDPath(base+deletedSuffix), SanitizeDPath(base); got != want {
		t.Errorf("SanitizeDPath(p+suffix) = %q, want %q (== SanitizeDPath(p))", got, want)
	}
}

func TestPathPrefixKey(t *testing.T) {
	key, bitLen := PathPrefixKey("/etc/passwd")
	if bitLen != len("/etc/passwd")*8 {
		t.Errorf("bitLen = %d, want %d", bitLen, len("/etc/passwd")*8)
	}
	if string(key) != "/etc/passwd" {
		t.Errorf("key = %q, want %q", key, "/etc/passwd")
	}

	long := strings.Repeat("a", LPMSizeMax+100)
	key, bitLen = PathPrefixKey(long)
	if len(key) != LPMSizeMax {
		t.Errorf("len(key) = %d, want %d", len(key), LPMSizeMax)
	}
	if bitLen != LPMSizeMax*8 {
		t.Errorf("bitLen = %d, want %d", bitLen, LPMSizeMax*8)
	}
}
