package mountinfo

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPackDev(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{in: "8:1", want: (8 << 20) | 1},
		{in: "0:30", want: 30},
		{in: "253:0", want: 253 << 20},
		{in: "bad", wantErr: true},
		{in: "1:2:3", wantErr: true},
		{in: "x:1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := PackDev(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("PackDev(%q): expected error, got %d", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("PackDev(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("PackDev(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPackRawDevMatchesPackDev(t *testing.T) {
	dev, err := PackDev("8:1")
	if err != nil {
		t.Fatal(err)
	}
	raw := unix.Mkdev(8, 1)
	if got := PackRawDev(raw); got != dev {
		t.Errorf("PackRawDev(%d) = %d, want %d", raw, got, dev)
	}
}

func TestTranslateRewritesMatchingRoot(t *testing.T) {
	entries := []Entry{
		{Root: "/var/lib/docker/volumes/vol1/_data", MountPoint: "/var/lib/containers/storage/vol1"},
	}
	got := Translate("/var/lib/docker/volumes/vol1/_data/file.txt", entries)
	want := "/var/lib/containers/storage/vol1/file.txt"
	if got != want {
		t.Errorf("Translate() = %q, want %q", got, want)
	}
}

func TestTranslateNoMatchReturnsUnchanged(t *testing.T) {
	entries := []Entry{
		{Root: "/some/other/root", MountPoint: "/somewhere/else"},
	}
	path := "/var/lib/kubelet/pods/abc/file.txt"
	if got := Translate(path, entries); got != path {
		t.Errorf("Translate() = %q, want unchanged %q", got, path)
	}
}
