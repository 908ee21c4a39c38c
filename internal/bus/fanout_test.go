package bus

import (
	"context"
	"testing"
	"time"

	"signal-systemv1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.IndicatorValue, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	upd := model.IndicatorValue{
		VariantID: "v-42",
		Symbol:    "BTCUSDT",
		Value:     101.5,
		TS:        time.Now().UTC(),
	}

	input <- upd
	time.Sleep(50 * time.Millisecond)

	select {
	case u := <-out1:
		if u.VariantID != "v-42" {
			t.Errorf("out1: expected variant v-42, got %s", u.VariantID)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for update")
	}

	select {
	case u := <-out2:
		if u.VariantID != "v-42" {
			t.Errorf("out2: expected variant v-42, got %s", u.VariantID)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for update")
	}

	cancel()
}

func TestFanOut_SlowConsumerDrops(t *testing.T) {
	fo := New(1)
	_ = fo.Subscribe() // never read

	dropped := make(chan int, 10)
	fo.OnDrop = func(idx int) { dropped <- idx }

	input := make(chan model.IndicatorValue, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for i := 0; i < 3; i++ {
		input <- model.IndicatorValue{VariantID: "v"}
	}

	select {
	case idx := <-dropped:
		if idx != 0 {
			t.Errorf("expected subscriber 0 to drop, got %d", idx)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop callback")
	}
}
