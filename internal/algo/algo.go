// Package algo provides the registry of base indicator algorithms.
//
// Every algorithm is a pure function over a window snapshot plus parameters:
// identical inputs always produce identical output, with no hidden state.
// The registry is an explicit dependency constructed once at startup and
// passed into the engine — never a package-level singleton — so tests can
// substitute a fake.
package algo

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signal-systemv1/internal/model"
)

var (
	// ErrUnavailable means the window held too few samples (or spanned too
	// little time) for the algorithm to produce a value. It is a value-level
	// condition, not a pipeline failure.
	ErrUnavailable = errors.New("algo: value unavailable")

	// ErrUnknownIndicatorType is returned for a base type outside the
	// registered set.
	ErrUnknownIndicatorType = errors.New("algo: unknown indicator type")

	// ErrEmptyRegistry means zero algorithms were registered. A process
	// that cannot populate the registry must not start serving.
	ErrEmptyRegistry = errors.New("algo: no algorithms registered")
)

// ComputeFunc computes one indicator value from a window snapshot.
// win is ordered oldest-first and must not be mutated. now anchors
// seconds-ago parameters.
type ComputeFunc func(win []model.Sample, p model.Params, now time.Time) (float64, error)

// Registry maps base indicator types to their compute functions. The set is
// closed at construction and validated: an unknown type is a registration
// error for variants, never a silent runtime miss.
type Registry struct {
	fns map[model.BaseType]ComputeFunc
}

// NewRegistry builds the registry with every built-in algorithm and logs the
// registered set. Fails with ErrEmptyRegistry if nothing was registered;
// there is deliberately no fallback computation path.
func NewRegistry(logger *slog.Logger) (*Registry, error) {
	r := &Registry{fns: make(map[model.BaseType]ComputeFunc)}

	r.register(model.TWPA, computeTWPA)
	r.register(model.VWPA, computeVWPA)
	r.register(model.VTWPA, computeVTWPA)
	r.register(model.Velocity, computeVelocity)
	r.register(model.VolumeSurge, computeVolumeSurge)
	r.register(model.BookImbalance, computeBookImbalance)
	r.register(model.WindowMax, computeWindowMax)
	r.register(model.WindowMin, computeWindowMin)

	if err := r.validate(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("algorithm registry ready",
			slog.Int("count", len(r.fns)),
			slog.Any("types", r.Types()))
	}
	return r, nil
}

// NewRegistryFrom builds a registry from an explicit function table. Used by
// tests to substitute fakes; the same no-empty-registry rule applies.
func NewRegistryFrom(fns map[model.BaseType]ComputeFunc) (*Registry, error) {
	if len(fns) == 0 {
		return nil, ErrEmptyRegistry
	}
	r := &Registry{fns: make(map[model.BaseType]ComputeFunc, len(fns))}
	for bt, fn := range fns {
		r.register(bt, fn)
	}
	return r, nil
}

func (r *Registry) register(bt model.BaseType, fn ComputeFunc) {
	r.fns[bt] = fn
}

func (r *Registry) validate() error {
	if len(r.fns) == 0 {
		return ErrEmptyRegistry
	}
	for _, bt := range model.BaseTypes() {
		if r.fns[bt] == nil {
			return fmt.Errorf("algo: base type %s has no compute function: %w", bt, ErrEmptyRegistry)
		}
	}
	return nil
}

// Get returns the compute function for a base type.
func (r *Registry) Get(bt model.BaseType) (ComputeFunc, error) {
	fn, ok := r.fns[bt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndicatorType, bt)
	}
	return fn, nil
}

// Has reports whether the base type is registered.
func (r *Registry) Has(bt model.BaseType) bool {
	_, ok := r.fns[bt]
	return ok
}

// Types enumerates the registered base types in declaration order.
func (r *Registry) Types() []model.BaseType {
	out := make([]model.BaseType, 0, len(r.fns))
	for _, bt := range model.BaseTypes() {
		if _, ok := r.fns[bt]; ok {
			out = append(out, bt)
		}
	}
	return out
}
