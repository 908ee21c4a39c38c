package model

import "context"

// ── Collaborator Port Interfaces ──
// These interfaces decouple the core from concrete collaborators (Redis,
// SQLite, WebSocket feeds). Each implementation satisfies one or more of
// these interfaces; tests substitute in-memory fakes.

// VariantStore is the persistence collaborator for indicator variants.
// It is the source of truth for which variants exist at startup and on
// every catalog mutation.
type VariantStore interface {
	// Create persists a new variant and returns its id.
	Create(ctx context.Context, v *Variant) (string, error)

	// ListBySymbol returns all live (not soft-deleted) variants for a symbol.
	ListBySymbol(ctx context.Context, symbol string) ([]Variant, error)

	// ListAll returns every live variant across all symbols.
	ListAll(ctx context.Context) ([]Variant, error)

	// Delete soft-deletes a variant by id.
	Delete(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}

// EventPublisher publishes core output events to the bus consumed by the
// transport/UI/persistence layers.
type EventPublisher interface {
	// PublishIndicatorUpdate publishes an indicator.updated event.
	PublishIndicatorUpdate(ctx context.Context, v IndicatorValue) error

	// PublishTransition publishes a strategy.state_transition event.
	PublishTransition(ctx context.Context, t TransitionEvent) error

	// Close releases underlying resources.
	Close() error
}

// EventSource pushes market events into the core. Implementations must
// deliver events for one symbol in order; ordering across symbols is not
// required.
type EventSource interface {
	// Run streams events into eventCh until ctx is cancelled.
	Run(ctx context.Context, eventCh chan<- MarketEvent) error

	// Close releases underlying resources.
	Close() error
}
