// Package svcctx carries the CLI's long-lived services through context.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/docextract/internal/config"
	"github.com/jackzampolin/docextract/internal/home"
	"github.com/jackzampolin/docextract/internal/llmcall"
	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/providers"
	"github.com/jackzampolin/docextract/internal/store"
)

// Services holds the services shared by commands.
// Store and Sink are nil when storage is disabled.
type Services struct {
	Config   *config.Manager
	Home     *home.Dir
	Registry *providers.Registry
	Store    *store.SQLiteStore
	Sink     *store.Sink
	Metrics  *metrics.Recorder
	Calls    *llmcall.Recorder
	Logger   *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// StoreFrom extracts the results store from context.
func StoreFrom(ctx context.Context) *store.SQLiteStore {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// MetricsFrom extracts the run metrics recorder from context.
func MetricsFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// LoggerFrom extracts the logger from context, falling back to slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ConfigFrom returns the current configuration, or nil.
func ConfigFrom(ctx context.Context) *config.Config {
	if s := ServicesFrom(ctx); s != nil && s.Config != nil {
		return s.Config.Get()
	}
	return nil
}
