package config

import "testing"

func TestLayerFromEnvNoneSetIsEmptyLayer(t *testing.T) {
	l, err := LayerFromEnv()
	if err != nil {
		t.Fatalf("LayerFromEnv: %v", err)
	}
	if l.Paths != nil || l.GRPC != nil || l.Endpoint != nil || l.SkipPreFlight != nil ||
		l.JSON != nil || l.RingbufSizeKB != nil || l.Hotreload != nil {
		t.Fatalf("expected an empty layer, got %+v", l)
	}
}

func TestLayerFromEnvJSONPair(t *testing.T) {
	t.Setenv("FACT_JSON", "true")

	l, err := LayerFromEnv()
	if err != nil {
		t.Fatalf("LayerFromEnv: %v", err)
	}
	if l.JSON == nil || !*l.JSON {
		t.Fatalf("JSON = %v, want true", l.JSON)
	}
}

func TestLayerFromEnvNegativeWinsWhenBothSet(t *testing.T) {
	t.Setenv("FACT_HOTRELOAD", "true")
	t.Setenv("FACT_NO_HOTRELOAD", "true")

	l, err := LayerFromEnv()
	if err != nil {
		t.Fatalf("LayerFromEnv: %v", err)
	}
	if l.Hotreload == nil || *l.Hotreload {
		t.Fatalf("Hotreload = %v, want false (negative form wins)", l.Hotreload)
	}
}

func TestLayerFromEnvRingbufAndPaths(t *testing.T) {
	t.Setenv("FACT_RINGBUF_SIZE", "256")
	t.Setenv("FACT_PATHS", "/etc, /var/lib")

	l, err := LayerFromEnv()
	if err != nil {
		t.Fatalf("LayerFromEnv: %v", err)
	}
	if l.RingbufSizeKB == nil || *l.RingbufSizeKB != 256 {
		t.Fatalf("RingbufSizeKB = %v, want 256", l.RingbufSizeKB)
	}
	if l.Paths == nil || len(*l.Paths) != 2 || (*l.Paths)[0] != "/etc" || (*l.Paths)[1] != "/var/lib" {
		t.Fatalf("Paths = %v, want [/etc /var/lib]", l.Paths)
	}
}

func TestLayerFromEnvRingbufSizeInvalid(t *testing.T) {
	t.Setenv("FACT_RINGBUF_SIZE", "not-a-number")

	if _, err := LayerFromEnv(); err == nil {
		t.Fatal("expected an error for a non-numeric FACT_RINGBUF_SIZE")
	}
}

func TestLayerFromEnvGRPCAndEndpoint(t *testing.T) {
	t.Setenv("FACT_URL", "sensor.stackrox:443")
	t.Setenv("FACT_CERTS", "/etc/stackrox/certs")
	t.Setenv("FACT_ADDRESS", "0.0.0.0:9001")
	t.Setenv("FACT_EXPOSE_METRICS", "false")

	l, err := LayerFromEnv()
	if err != nil {
		t.Fatalf("LayerFromEnv: %v", err)
	}
	if l.GRPC == nil || l.GRPC.URL == nil || *l.GRPC.URL != "sensor.stackrox:443" {
		t.Fatalf("GRPC.URL = %+v, want sensor.stackrox:443", l.GRPC)
	}
	if l.GRPC.CertsDir == nil || *l.GRPC.CertsDir != "/etc/stackrox/certs" {
		t.Fatalf("GRPC.CertsDir = %v, want /etc/stackrox/certs", l.GRPC.CertsDir)
	}
	if l.Endpoint == nil || l.Endpoint.Address == nil || *l.Endpoint.Address != "0.0.0.0:9001" {
		t.Fatalf("Endpoint.Address = %+v, want 0.0.0.0:9001", l.Endpoint)
	}
	if l.Endpoint.ExposeMetrics == nil || *l.Endpoint.ExposeMetrics {
		t.Fatalf("Endpoint.ExposeMetrics = %v, want false", l.Endpoint.ExposeMetrics)
	}
}
