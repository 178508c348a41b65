package otelx

import "testing"

func TestGetenv(t *testing.T) {
	t.Setenv("OTELX_TEST_KEY", "set")
	if got := getenv("OTELX_TEST_KEY", "fallback"); got != "set" {
		t.Fatalf("getenv = %q, want %q", got, "set")
	}
	if got := getenv("OTELX_TEST_KEY_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("getenv = %q, want fallback", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")

	cfg := ConfigFromEnv("booking")
	if cfg.Enabled {
		t.Fatalf("expected tracing disabled")
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("endpoint = %q", cfg.OTLPEndpoint)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("sample ratio = %v", cfg.SampleRatio)
	}
}
