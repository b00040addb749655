package config

import (
	"strings"
	"testing"
)

func TestValidateRingbufSizePowerOfTwo(t *testing.T) {
	tests := []struct {
		kb      uint32
		wantErr bool
	}{
		{64, false},
		{8192, false},
		{65, true},
		{63, true},
		{0, true},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.RingbufSizeKB = tt.kb
		cfg.Endpoint.Address = "0.0.0.0:9000"
		err := cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("RingbufSizeKB=%d: err=%v, wantErr=%v", tt.kb, err, tt.wantErr)
		}
	}
}

func TestValidateRingbufSizeMessage(t *testing.T) {
	cfg := Default()
	cfg.RingbufSizeKB = 65
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ringbuf_size is not a power of 2: 65") {
		t.Fatalf("Validate() = %v, want a message naming the bad value", err)
	}
}

func TestValidateEmptyPathRejected(t *testing.T) {
	cfg := Default()
	cfg.Paths = []string{"/etc", ""}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with an empty path entry should fail")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly, got %v", err)
	}
}
