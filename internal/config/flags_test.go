package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func newTestFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	return fs
}

func TestLayerFromFlagsNoneSetIsEmptyLayer(t *testing.T) {
	fs := newTestFlagSet()
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	l, err := LayerFromFlags(fs)
	if err != nil {
		t.Fatalf("LayerFromFlags: %v", err)
	}
	if l.Paths != nil || l.JSON != nil || l.RingbufSizeKB != nil || l.Hotreload != nil {
		t.Fatalf("expected an empty layer, got %+v", l)
	}
}

func TestLayerFromFlagsJSONPair(t *testing.T) {
	fs := newTestFlagSet()
	if err := fs.Parse([]string{"--json"}); err != nil {
		t.Fatal(err)
	}
	l, err := LayerFromFlags(fs)
	if err != nil {
		t.Fatalf("LayerFromFlags: %v", err)
	}
	if l.JSON == nil || !*l.JSON {
		t.Fatalf("JSON = %v, want true", l.JSON)
	}
}

func TestLayerFromFlagsNegativeWinsWhenBothSet(t *testing.T) {
	fs := newTestFlagSet()
	if err := fs.Parse([]string{"--hotreload", "--no-hotreload"}); err != nil {
		t.Fatal(err)
	}
	l, err := LayerFromFlags(fs)
	if err != nil {
		t.Fatalf("LayerFromFlags: %v", err)
	}
	if l.Hotreload == nil || *l.Hotreload {
		t.Fatalf("Hotreload = %v, want false (negative form wins)", l.Hotreload)
	}
}

func TestLayerFromFlagsRingbufAndPaths(t *testing.T) {
	fs := newTestFlagSet()
	if err := fs.Parse([]string{"--ringbuf-size=256", "--paths=/etc,/var/lib"}); err != nil {
		t.Fatal(err)
	}
	l, err := LayerFromFlags(fs)
	if err != nil {
		t.Fatalf("LayerFromFlags: %v", err)
	}
	if l.RingbufSizeKB == nil || *l.RingbufSizeKB != 256 {
		t.Fatalf("RingbufSizeKB = %v, want 256", l.RingbufSizeKB)
	}
	if l.Paths == nil || len(*l.Paths) != 2 {
		t.Fatalf("Paths = %v, want 2 entries", l.Paths)
	}
}
