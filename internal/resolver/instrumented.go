package resolver

import (
	"context"

	"github.com/italolelis/musicdl/internal/media"
	"github.com/italolelis/musicdl/internal/telemetry"
)

// Resolver is implemented by Client.
type Resolver interface {
	Resolve(ctx context.Context, key string) (media.Info, error)
}

// InstrumentedResolver wraps a Resolver with telemetry.
type InstrumentedResolver struct {
	resolver  Resolver
	telemetry *telemetry.Telemetry
	source    string
}

// NewInstrumentedResolver creates a new instrumented resolver.
func NewInstrumentedResolver(r Resolver, tel *telemetry.Telemetry, source string) *InstrumentedResolver {
	return &InstrumentedResolver{
		resolver:  r,
		telemetry: tel,
		source:    source,
	}
}

// Resolve resolves key with telemetry.
func (r *InstrumentedResolver) Resolve(ctx context.Context, key string) (media.Info, error) {
	var result media.Info

	var err error

	instrumentedErr := r.telemetry.InstrumentResolverOperation(ctx, r.source, "resolve", func(ctx context.Context) error {
		result, err = r.resolver.Resolve(ctx, key)

		return err
	})

	if instrumentedErr != nil {
		return media.Info{}, instrumentedErr
	}

	return result, nil
}
