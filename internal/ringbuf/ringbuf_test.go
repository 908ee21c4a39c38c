package ringbuf

import (
	"sync"
	"testing"
	"time"

	"signal-systemv1/internal/model"
)

func sampleAt(base time.Time, secAgo int, price float64) model.Sample {
	return model.Sample{TS: base.Add(-time.Duration(secAgo) * time.Second), Price: price}
}

func TestRing_AppendOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := New(8)

	// Append out of order; ring must keep timestamp order.
	r.Append(sampleAt(now, 10, 1))
	r.Append(sampleAt(now, 30, 2))
	r.Append(sampleAt(now, 20, 3))

	win, err := r.Window(time.Hour, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(win) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(win))
	}
	if win[0].Price != 2 || win[1].Price != 3 || win[2].Price != 1 {
		t.Errorf("samples not in time order: %+v", win)
	}
}

func TestRing_OverflowEvictsOldest(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := New(3)

	for i := 0; i < 5; i++ {
		r.Append(sampleAt(now, 100-i, float64(i)))
	}

	if r.Len() != 3 {
		t.Fatalf("expected len 3, got %d", r.Len())
	}
	if r.Overflow() != 2 {
		t.Errorf("expected 2 overflows, got %d", r.Overflow())
	}
	win, _ := r.Window(time.Hour, 0, now)
	// Oldest two (prices 0, 1) must be gone.
	if win[0].Price != 2 || win[2].Price != 4 {
		t.Errorf("eviction kept wrong samples: %+v", win)
	}
}

func TestRing_WindowBounds(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := New(16)
	for _, secAgo := range []int{300, 200, 100, 0} {
		r.Append(sampleAt(now, secAgo, float64(secAgo)))
	}

	tests := []struct {
		name   string
		t1, t2 time.Duration
		want   []float64
	}{
		{"full", 300 * time.Second, 0, []float64{300, 200, 100, 0}},
		{"inner", 250 * time.Second, 50 * time.Second, []float64{200, 100}},
		{"recent", 100 * time.Second, 0, []float64{100, 0}},
		{"empty", 50 * time.Second, 10 * time.Second, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			win, err := r.Window(tt.t1, tt.t2, now)
			if err != nil {
				t.Fatal(err)
			}
			if len(win) != len(tt.want) {
				t.Fatalf("expected %d samples, got %d", len(tt.want), len(win))
			}
			for i, w := range tt.want {
				if win[i].Price != w {
					t.Errorf("sample %d: expected price %.0f, got %.0f", i, w, win[i].Price)
				}
			}
		})
	}
}

func TestRing_WindowRejectsBadBounds(t *testing.T) {
	r := New(4)
	if _, err := r.Window(time.Second, 2*time.Second, time.Now()); err != ErrBadWindow {
		t.Errorf("expected ErrBadWindow for t1 < t2, got %v", err)
	}
	if _, err := r.Window(time.Second, -time.Second, time.Now()); err != ErrBadWindow {
		t.Errorf("expected ErrBadWindow for t2 < 0, got %v", err)
	}
}

func TestRing_WindowRestartable(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := New(8)
	r.Append(sampleAt(now, 10, 42))

	first, _ := r.Window(time.Minute, 0, now)
	r.Append(sampleAt(now, 5, 43))
	// The earlier snapshot must be unaffected by the later append.
	if len(first) != 1 || first[0].Price != 42 {
		t.Errorf("window snapshot mutated by later append: %+v", first)
	}
}

func TestRing_ResizeKeepsNewest(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		fill    int
		newCap  int
		wantLen int
		newest  float64
		oldest  float64
	}{
		{"shrink", 6, 3, 3, 5, 3},
		{"grow", 4, 10, 4, 3, 0},
		{"equal_count", 4, 4, 4, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(8)
			for i := 0; i < tt.fill; i++ {
				r.Append(sampleAt(now, 100-i, float64(i)))
			}
			r.Resize(tt.newCap)
			if r.Cap() != tt.newCap {
				t.Fatalf("expected cap %d, got %d", tt.newCap, r.Cap())
			}
			if r.Len() != tt.wantLen {
				t.Fatalf("expected len %d, got %d", tt.wantLen, r.Len())
			}
			win, _ := r.Window(time.Hour, 0, now)
			if win[0].Price != tt.oldest {
				t.Errorf("expected oldest kept price %.0f, got %.0f", tt.oldest, win[0].Price)
			}
			if win[len(win)-1].Price != tt.newest {
				t.Errorf("expected newest price %.0f, got %.0f", tt.newest, win[len(win)-1].Price)
			}
		})
	}
}

func TestManager_RequiredCapacityClamped(t *testing.T) {
	m := NewManager(ManagerConfig{MinSize: 100, MaxSize: 10000, Margin: 1.2})

	tests := []struct {
		name     string
		lookback float64
		want     int
	}{
		{"below_min", 10, 100},     // 10s * 1/s * 1.2 = 12 → clamp 100
		{"mid", 600, 720},          // 600 * 1.2
		{"above_max", 60000, 10000}, // clamp to max
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.required(tt.lookback, 0); got != tt.want {
				t.Errorf("required(%.0f) = %d, want %d", tt.lookback, got, tt.want)
			}
		})
	}
}

func TestManager_SetLookbackResizes(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager(DefaultManagerConfig())

	m.Append("BTCUSDT", model.KindTick, sampleAt(now, 1, 100))
	if got := m.Capacity("BTCUSDT", model.KindTick); got != DefaultMinSize {
		t.Fatalf("expected lazy ring at min size %d, got %d", DefaultMinSize, got)
	}

	m.SetLookback("BTCUSDT", 900) // 900 * 1.2 = 1080
	if got := m.Capacity("BTCUSDT", model.KindTick); got != 1080 {
		t.Errorf("expected capacity 1080 after lookback bump, got %d", got)
	}

	// Deleting the only variant shrinks back toward min size.
	m.SetLookback("BTCUSDT", 0)
	if got := m.Capacity("BTCUSDT", model.KindTick); got != DefaultMinSize {
		t.Errorf("expected capacity back at %d, got %d", DefaultMinSize, got)
	}
}

func TestManager_ConcurrentSymbolsNoLeakage(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager(ManagerConfig{MinSize: 2000, MaxSize: 10000, Margin: 1.2})

	const perSymbol = 1000
	symbols := []string{"BTCUSDT", "ETHUSDT"}

	var wg sync.WaitGroup
	for si, sym := range symbols {
		wg.Add(1)
		go func(si int, sym string) {
			defer wg.Done()
			for i := 0; i < perSymbol; i++ {
				m.Append(sym, model.KindTick, model.Sample{
					TS:    base.Add(time.Duration(i) * time.Millisecond),
					Price: float64(si*1_000_000 + i),
				})
			}
		}(si, sym)
	}
	wg.Wait()

	for si, sym := range symbols {
		if got := m.Len(sym, model.KindTick); got != perSymbol {
			t.Errorf("%s: expected %d samples, got %d", sym, perSymbol, got)
		}
		win, err := m.Window(sym, model.KindTick, time.Hour, 0, base.Add(time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		for i, s := range win {
			want := float64(si*1_000_000 + i)
			if s.Price != want {
				t.Fatalf("%s sample %d: expected %.0f, got %.0f (cross-symbol leak or reorder)", sym, i, want, s.Price)
			}
		}
	}
}

func TestManager_SweepIdle(t *testing.T) {
	now := time.Now()
	m := NewManager(DefaultManagerConfig())

	m.Append("STALE", model.KindTick, model.Sample{TS: now, Price: 1})
	m.Append("FRESH", model.KindTick, model.Sample{TS: now, Price: 1})

	// Only the stale ring is older than the TTL at sweep time.
	evicted := m.SweepIdle(10*time.Minute, now.Add(5*time.Minute))
	if evicted != 0 {
		t.Fatalf("expected no evictions before TTL, got %d", evicted)
	}

	evicted = m.SweepIdle(10*time.Minute, now.Add(11*time.Minute))
	if evicted != 2 {
		t.Errorf("expected both idle rings evicted, got %d", evicted)
	}
	if m.Capacity("STALE", model.KindTick) != 0 {
		t.Error("expected stale ring dropped")
	}
}
