package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFields(t *testing.T) {
	fields := StringFields(
		StringField{Key: "  provider  ", Value: "  ollama  "},
		StringField{Key: "ignored", Value: "   "},
		StringField{Key: "   ", Value: "empty key"},
	)

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}

	if fields[0].Key != "provider" || fields[0].String != "ollama" {
		t.Fatalf("unexpected provider field: %+v", fields[0])
	}

	if empty := StringFields(); len(empty) != 0 {
		t.Fatalf("expected empty fields, got %d", len(empty))
	}
}

func TestWithFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	enriched := WithFields(logger, zap.String(FieldCandidate, "cv1"))
	enriched.Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	if got := entries[0].ContextMap()[FieldCandidate]; got != "cv1" {
		t.Fatalf("expected candidate field to be cv1, got %q", got)
	}

	enriched = WithFields(nil, zap.String("baz", "qux"))
	if enriched == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}

	enriched.Info("another log")
}

func TestOracleFields(t *testing.T) {
	fields := OracleFields("  ollama  ", "llama3.2")
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}

	if fields[0].Key != FieldProvider || fields[0].String != "ollama" {
		t.Fatalf("unexpected provider field: %+v", fields[0])
	}

	if fields[1].Key != FieldModel || fields[1].String != "llama3.2" {
		t.Fatalf("unexpected model field: %+v", fields[1])
	}

	if empty := OracleFields("", ""); len(empty) != 0 {
		t.Fatalf("expected empty fields, got %d", len(empty))
	}
}

func TestWithRun(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithRun(zap.New(core), "v1", "llama3.2").Info("run started")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx[FieldRun] != "v1" {
		t.Fatalf("expected run field v1, got %q", ctx[FieldRun])
	}
	if ctx[FieldModel] != "llama3.2" {
		t.Fatalf("expected model field llama3.2, got %q", ctx[FieldModel])
	}
}

func TestNew(t *testing.T) {
	for _, json := range []bool{false, true} {
		logger, err := New(json, true)
		if err != nil {
			t.Fatalf("json=%v: unexpected error: %v", json, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("json=%v: expected debug level to be enabled", json)
		}
	}
}
