package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"signal-systemv1/internal/algo"
	"signal-systemv1/internal/model"
)

type fakeStore struct {
	byID      map[string]model.Variant
	nextID    int
	listErr   error
	listFixed []model.Variant // when set, ListAll returns exactly this slice
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[string]model.Variant)}
}

func (s *fakeStore) Create(ctx context.Context, v *model.Variant) (string, error) {
	s.nextID++
	id := v.ID
	if id == "" {
		id = fmt.Sprintf("v-%d", s.nextID)
	}
	stored := *v
	stored.ID = id
	s.byID[id] = stored
	return id, nil
}

func (s *fakeStore) ListBySymbol(ctx context.Context, symbol string) ([]model.Variant, error) {
	var out []model.Variant
	for _, v := range s.byID {
		if v.Symbol == symbol {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAll(ctx context.Context) ([]model.Variant, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if s.listFixed != nil {
		return s.listFixed, nil
	}
	out := make([]model.Variant, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	return out, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return errors.New("no such variant")
	}
	delete(s.byID, id)
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeRegistrar struct {
	registered   map[string]model.Variant
	unregistered []string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: make(map[string]model.Variant)}
}

func (r *fakeRegistrar) RegisterVariant(v model.Variant) error {
	r.registered[v.ID] = v
	return nil
}

func (r *fakeRegistrar) UnregisterVariant(id string) {
	delete(r.registered, id)
	r.unregistered = append(r.unregistered, id)
}

func newTestCatalog(t *testing.T) (*Catalog, *fakeStore, *fakeRegistrar) {
	t.Helper()
	store := newFakeStore()
	reg := newFakeRegistrar()
	logger := slog.Default()
	registry, err := algo.NewRegistry(logger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return New(store, registry, reg, logger), store, reg
}

func TestCatalog_CreateRegistersAndPersists(t *testing.T) {
	c, store, reg := newTestCatalog(t)

	v := model.Variant{
		Name:     "twpa-fast",
		BaseType: model.TWPA,
		Symbol:   "BTCUSDT",
		Params:   model.Params{model.ParamT1: 300, model.ParamT2: 0},
	}
	id, err := c.Create(context.Background(), &v)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}
	if _, ok := store.byID[id]; !ok {
		t.Error("variant not persisted")
	}
	if _, ok := reg.registered[id]; !ok {
		t.Error("variant not registered with engine")
	}
	if got, ok := c.Get(id); !ok || got.Name != "twpa-fast" {
		t.Errorf("Get: got %+v ok=%v", got, ok)
	}
}

func TestCatalog_CreateValidation(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		variant model.Variant
		wantErr error
	}{
		{
			"empty symbol",
			model.Variant{BaseType: model.TWPA, Params: model.Params{model.ParamT1: 300}},
			ErrValidation,
		},
		{
			"unknown base type",
			model.Variant{BaseType: "SMA", Symbol: "BTCUSDT", Params: model.Params{model.ParamT1: 300}},
			algo.ErrUnknownIndicatorType,
		},
		{
			"inverted window",
			model.Variant{BaseType: model.TWPA, Symbol: "BTCUSDT", Params: model.Params{model.ParamT1: 60, model.ParamT2: 300}},
			ErrValidation,
		},
		{
			"no window and no period",
			model.Variant{BaseType: model.TWPA, Symbol: "BTCUSDT", Params: model.Params{}},
			ErrValidation,
		},
		{
			"surge reference inside main window",
			model.Variant{BaseType: model.VolumeSurge, Symbol: "BTCUSDT",
				Params: model.Params{model.ParamT1: 300, model.ParamT2: 0, model.ParamRefT1: 200}},
			ErrValidation,
		},
		{
			"second-order without base",
			model.Variant{BaseType: model.WindowMax, Symbol: "BTCUSDT", Params: model.Params{model.ParamT1: 600}},
			ErrValidation,
		},
		{
			"second-order unknown base",
			model.Variant{BaseType: model.WindowMax, Symbol: "BTCUSDT", BaseID: "ghost",
				Params: model.Params{model.ParamT1: 600}},
			ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.variant
			if _, err := c.Create(ctx, &v); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCatalog_SecondOrderCrossSymbolRejected(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	ctx := context.Background()

	base := model.Variant{
		Name: "twpa", BaseType: model.TWPA, Symbol: "BTCUSDT",
		Params: model.Params{model.ParamT1: 300},
	}
	baseID, err := c.Create(ctx, &base)
	if err != nil {
		t.Fatalf("Create base: %v", err)
	}

	wrong := model.Variant{
		Name: "max", BaseType: model.WindowMax, Symbol: "ETHUSDT", BaseID: baseID,
		Params: model.Params{model.ParamT1: 600},
	}
	if _, err := c.Create(ctx, &wrong); !errors.Is(err, ErrValidation) {
		t.Errorf("cross-symbol base: got %v, want ErrValidation", err)
	}

	right := model.Variant{
		Name: "max", BaseType: model.WindowMax, Symbol: "BTCUSDT", BaseID: baseID,
		Params: model.Params{model.ParamT1: 600},
	}
	if _, err := c.Create(ctx, &right); err != nil {
		t.Errorf("same-symbol base: got %v", err)
	}
}

func TestCatalog_DeleteUnregisters(t *testing.T) {
	c, store, reg := newTestCatalog(t)
	ctx := context.Background()

	v := model.Variant{
		Name: "twpa", BaseType: model.TWPA, Symbol: "BTCUSDT",
		Params: model.Params{model.ParamT1: 300},
	}
	id, err := c.Create(ctx, &v)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := c.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.byID[id]; ok {
		t.Error("variant still in store")
	}
	if len(reg.unregistered) != 1 || reg.unregistered[0] != id {
		t.Errorf("unregistered: got %v", reg.unregistered)
	}
	if _, ok := c.Get(id); ok {
		t.Error("deleted variant still resolvable")
	}

	if err := c.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestCatalog_LoadAllSkipsInvalid(t *testing.T) {
	c, store, reg := newTestCatalog(t)

	store.byID["good"] = model.Variant{
		ID: "good", Name: "twpa", BaseType: model.TWPA, Symbol: "BTCUSDT",
		Params: model.Params{model.ParamT1: 300},
	}
	store.byID["bad"] = model.Variant{
		ID: "bad", Name: "mystery", BaseType: "MYSTERY", Symbol: "BTCUSDT",
		Params: model.Params{model.ParamT1: 300},
	}

	if err := c.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if _, ok := c.Get("good"); !ok {
		t.Error("valid variant not loaded")
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("invalid variant loaded")
	}
	if _, ok := reg.registered["good"]; !ok {
		t.Error("valid variant not registered")
	}
}

func TestCatalog_LoadAllSecondOrderBeforeBase(t *testing.T) {
	c, store, reg := newTestCatalog(t)

	base := model.Variant{
		ID: "base", Name: "twpa", BaseType: model.TWPA, Symbol: "BTCUSDT",
		Params: model.Params{model.ParamT1: 300},
	}
	wmax := model.Variant{
		ID: "wmax", Name: "twpa-max", BaseType: model.WindowMax, Symbol: "BTCUSDT",
		BaseID: "base", Params: model.Params{model.ParamT1: 600},
	}
	// Stored order lists the dependent before its base.
	store.listFixed = []model.Variant{wmax, base}

	if err := c.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	for _, id := range []string{"base", "wmax"} {
		if _, ok := c.Get(id); !ok {
			t.Errorf("variant %s not loaded", id)
		}
		if _, ok := reg.registered[id]; !ok {
			t.Errorf("variant %s not registered", id)
		}
	}
}

func TestCatalog_LoadAllStoreFailureFatal(t *testing.T) {
	c, store, _ := newTestCatalog(t)
	store.listErr = errors.New("disk gone")

	if err := c.LoadAll(context.Background()); err == nil {
		t.Fatal("expected store failure to propagate")
	}
}

func TestCatalog_BySymbol(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	ctx := context.Background()

	for i, sym := range []string{"BTCUSDT", "BTCUSDT", "ETHUSDT"} {
		v := model.Variant{
			Name: fmt.Sprintf("twpa-%d", i), BaseType: model.TWPA, Symbol: sym,
			Params: model.Params{model.ParamT1: 300},
		}
		if _, err := c.Create(ctx, &v); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if got := len(c.BySymbol("BTCUSDT")); got != 2 {
		t.Errorf("BTCUSDT variants: got %d, want 2", got)
	}
	if got := len(c.BySymbol("ETHUSDT")); got != 1 {
		t.Errorf("ETHUSDT variants: got %d, want 1", got)
	}
	if got := c.Len(); got != 3 {
		t.Errorf("Len: got %d, want 3", got)
	}
}
