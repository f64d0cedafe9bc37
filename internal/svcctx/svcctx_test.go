package svcctx

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/providers"
)

func TestServicesFrom(t *testing.T) {
	ctx := context.Background()
	if ServicesFrom(ctx) != nil {
		t.Error("ServicesFrom() on empty context should be nil")
	}
	if RegistryFrom(ctx) != nil || StoreFrom(ctx) != nil || MetricsFrom(ctx) != nil || ConfigFrom(ctx) != nil {
		t.Error("extractors on empty context should return nil")
	}
	if LoggerFrom(ctx) != slog.Default() {
		t.Error("LoggerFrom() should fall back to slog.Default")
	}

	reg := providers.NewRegistry()
	rec := metrics.NewRecorder(metrics.Pricing{}, nil, nil)
	logger := slog.New(slog.NewTextHandler(nil, nil))
	ctx = WithServices(ctx, &Services{Registry: reg, Metrics: rec, Logger: logger})

	if RegistryFrom(ctx) != reg {
		t.Error("RegistryFrom() mismatch")
	}
	if MetricsFrom(ctx) != rec {
		t.Error("MetricsFrom() mismatch")
	}
	if LoggerFrom(ctx) != logger {
		t.Error("LoggerFrom() mismatch")
	}
	if StoreFrom(ctx) != nil {
		t.Error("StoreFrom() should be nil when storage is disabled")
	}
}
