package deadletter

import (
	"context"
	"testing"
)

type stubSink struct{ id string }

func (s *stubSink) ID() string                         { return s.id }
func (s *stubSink) Type() string                       { return "stub" }
func (s *stubSink) Send(context.Context, Letter) error { return nil }

func TestRegistryBuildsRegisteredType(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(" STUB ", func(_ context.Context, cfg Config, _ Logger) (Sink, error) {
		return &stubSink{id: cfg.ID}, nil
	})

	sink, err := reg.SinkFor(context.Background(), Config{Type: "stub"}, nil)
	if err != nil {
		t.Fatalf("SinkFor: %v", err)
	}
	if sink.ID() != "stub" {
		t.Fatalf("ID defaulted to %q", sink.ID())
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	if _, err := NewRegistry(nil).SinkFor(context.Background(), Config{Type: "kafka"}, nil); err == nil {
		t.Fatalf("expected error for unregistered type")
	}
}

func TestNormalizeRejectsIncompleteConfigs(t *testing.T) {
	cases := []Config{
		{},
		{Type: TypeHTTP},
		{Type: TypeSQS, SQS: &SQSConfig{QueueURL: "https://q"}},
		{Type: TypeSNS, SNS: &SNSConfig{Region: "us-east-1"}},
	}
	for i, cfg := range cases {
		if _, err := Normalize(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestNormalizeFillsHTTPDefaults(t *testing.T) {
	cfg, err := Normalize(Config{Type: "HTTP", HTTP: &HTTPConfig{URL: " https://example.com "}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.HTTP.Method != httpDefaultMethod || cfg.HTTP.TimeoutSeconds != httpDefaultTimeoutSeconds {
		t.Fatalf("defaults not applied: %#v", cfg.HTTP)
	}
	if cfg.HTTP.URL != "https://example.com" {
		t.Fatalf("URL not trimmed: %q", cfg.HTTP.URL)
	}
}
