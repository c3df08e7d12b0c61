package fetch

import (
	"context"
	"errors"

	"github.com/italolelis/mediafetch/internal/telemetry"
)

// InstrumentedBackend wraps a Backend with telemetry.
type InstrumentedBackend struct {
	backend     Backend
	telemetry   *telemetry.Telemetry
	backendType string
}

// NewInstrumentedBackend creates a new instrumented backend.
func NewInstrumentedBackend(backend Backend, tel *telemetry.Telemetry, backendType string) *InstrumentedBackend {
	return &InstrumentedBackend{
		backend:     backend,
		telemetry:   tel,
		backendType: backendType,
	}
}

// Probe looks up metadata with telemetry.
func (b *InstrumentedBackend) Probe(ctx context.Context, url string) (Metadata, error) {
	var result Metadata

	err := b.telemetry.InstrumentBackendOperation(ctx, b.backendType, "probe", func(ctx context.Context) error {
		var err error

		result, err = b.backend.Probe(ctx, url)

		return err
	})
	if err != nil {
		return Metadata{}, err
	}

	return result, nil
}

// Fetch runs the fetch with telemetry. A cancelled fetch is not counted as a
// backend error.
func (b *InstrumentedBackend) Fetch(ctx context.Context, req Request, onProgress ProgressFunc) error {
	var cancelErr error

	err := b.telemetry.InstrumentBackendOperation(ctx, b.backendType, "fetch", func(ctx context.Context) error {
		err := b.backend.Fetch(ctx, req, onProgress)
		if errors.Is(err, ErrCancelled) {
			cancelErr = err

			return nil
		}

		return err
	})
	if cancelErr != nil {
		return cancelErr
	}

	return err
}

var _ Backend = (*InstrumentedBackend)(nil)
