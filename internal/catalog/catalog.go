// Package catalog is the source of truth for which indicator variants exist.
// It validates variants at creation, persists them through the variant store
// collaborator, and keeps the engine's registration in sync on every
// mutation.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"signal-systemv1/internal/algo"
	"signal-systemv1/internal/model"
)

// ErrValidation marks a malformed variant: unknown base type, bad window
// bounds, or a dangling base reference. The variant is not created.
var ErrValidation = errors.New("catalog: invalid variant")

// ErrNotFound is returned when a variant id does not exist.
var ErrNotFound = errors.New("catalog: variant not found")

// Registrar is the engine-side hook the catalog drives. Registering triggers
// a buffer capacity re-evaluation for the variant's symbol; unregistering
// may shrink it.
type Registrar interface {
	RegisterVariant(v model.Variant) error
	UnregisterVariant(id string)
}

// Catalog owns the live variant set. All mutations go through here so the
// store, the engine, and the in-memory index never drift apart.
type Catalog struct {
	store     model.VariantStore
	registry  *algo.Registry
	registrar Registrar
	logger    *slog.Logger

	mu   sync.RWMutex
	byID map[string]model.Variant
}

// New wires a catalog to its collaborators.
func New(store model.VariantStore, registry *algo.Registry, registrar Registrar, logger *slog.Logger) *Catalog {
	return &Catalog{
		store:     store,
		registry:  registry,
		registrar: registrar,
		logger:    logger,
		byID:      make(map[string]model.Variant),
	}
}

// LoadAll pulls every live variant from the store and registers it with the
// engine. Called once at startup; a store failure here is fatal to the
// caller, a single invalid stored variant is skipped and logged.
func (c *Catalog) LoadAll(ctx context.Context) error {
	variants, err := c.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("catalog: load variants: %w", err)
	}
	// Second-order variants validate against their base's catalog entry,
	// so bases must land first regardless of stored order.
	var deferred []model.Variant
	loaded := 0
	for _, v := range variants {
		if v.BaseType.SecondOrder() {
			deferred = append(deferred, v)
			continue
		}
		if c.loadOne(v) {
			loaded++
		}
	}
	for _, v := range deferred {
		if c.loadOne(v) {
			loaded++
		}
	}
	c.logger.Info("variant catalog loaded", slog.Int("variants", loaded))
	return nil
}

func (c *Catalog) loadOne(v model.Variant) bool {
	if err := c.validate(&v); err != nil {
		c.logger.Warn("skipping invalid stored variant",
			slog.String("id", v.ID), slog.String("err", err.Error()))
		return false
	}
	if err := c.registrar.RegisterVariant(v); err != nil {
		c.logger.Warn("skipping unregisterable variant",
			slog.String("id", v.ID), slog.String("err", err.Error()))
		return false
	}
	c.mu.Lock()
	c.byID[v.ID] = v
	c.mu.Unlock()
	return true
}

// Create validates the variant, persists it, and registers it with the
// engine. Fails fast with ErrValidation (or ErrUnknownIndicatorType) before
// anything is written.
func (c *Catalog) Create(ctx context.Context, v *model.Variant) (string, error) {
	if err := c.validate(v); err != nil {
		return "", err
	}
	id, err := c.store.Create(ctx, v)
	if err != nil {
		return "", fmt.Errorf("catalog: persist variant: %w", err)
	}
	v.ID = id
	if err := c.registrar.RegisterVariant(*v); err != nil {
		// Persisted but unregisterable should be impossible after
		// validation; surface rather than leave the store ahead of the
		// engine.
		return "", err
	}
	c.mu.Lock()
	c.byID[id] = *v
	c.mu.Unlock()
	c.logger.Info("variant created",
		slog.String("id", id), slog.String("variant", v.String()))
	return id, nil
}

// Delete soft-deletes the variant and unregisters it, which re-evaluates
// (and may shrink) the symbol's buffer capacity.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	c.mu.RLock()
	v, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("catalog: delete variant: %w", err)
	}
	c.registrar.UnregisterVariant(id)
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
	c.logger.Info("variant deleted",
		slog.String("id", id), slog.String("variant", v.String()))
	return nil
}

// Get returns a variant by id.
func (c *Catalog) Get(id string) (model.Variant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byID[id]
	return v, ok
}

// BySymbol returns all live variants bound to a symbol.
func (c *Catalog) BySymbol(symbol string) []model.Variant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Variant
	for _, v := range c.byID {
		if v.Symbol == symbol {
			out = append(out, v)
		}
	}
	return out
}

// All returns every live variant.
func (c *Catalog) All() []model.Variant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Variant, 0, len(c.byID))
	for _, v := range c.byID {
		out = append(out, v)
	}
	return out
}

// Len returns the number of live variants.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// validate enforces the construction-time invariants. Window bounds are
// seconds-ago with t1 > t2 >= 0; period counts must be positive; volume
// surge needs a reference window strictly outside the main one; second-order
// types must reference an existing variant on the same symbol.
func (c *Catalog) validate(v *model.Variant) error {
	if v.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}
	if !c.registry.Has(v.BaseType) {
		return fmt.Errorf("%w: %q", algo.ErrUnknownIndicatorType, v.BaseType)
	}

	p := v.Params
	t1, t2 := p.T1(), p.T2()
	period := p[model.ParamPeriod]
	switch {
	case t1 != 0 || t2 != 0:
		if t1 <= t2 || t2 < 0 {
			return fmt.Errorf("%w: window requires t1 > t2 >= 0, got t1=%v t2=%v", ErrValidation, t1, t2)
		}
	case period > 0:
		// Period-count variants derive their time window from the
		// observed sampling cadence at compute time.
	default:
		return fmt.Errorf("%w: need a (t1,t2) window or a period", ErrValidation)
	}

	if v.BaseType == model.VolumeSurge {
		if ref := p[model.ParamRefT1]; ref <= t1 {
			return fmt.Errorf("%w: volume surge requires ref_t1 > t1", ErrValidation)
		}
	}

	if v.BaseType.SecondOrder() {
		if v.BaseID == "" {
			return fmt.Errorf("%w: %s requires a base variant reference", ErrValidation, v.BaseType)
		}
		c.mu.RLock()
		base, ok := c.byID[v.BaseID]
		c.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: base variant %q not found", ErrValidation, v.BaseID)
		}
		if base.Symbol != v.Symbol {
			return fmt.Errorf("%w: base variant is bound to %s, not %s", ErrValidation, base.Symbol, v.Symbol)
		}
	}
	return nil
}
