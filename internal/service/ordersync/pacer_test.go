package ordersync

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestPacerBatches(t *testing.T) {
	p := NewBatchPacer(50, nil)

	got := p.Batches(120)
	want := [][2]int{{0, 50}, {50, 100}, {100, 120}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Batches(120) = %v, want %v", got, want)
	}
	if len(p.Batches(0)) != 0 {
		t.Fatal("no items means no batches")
	}
}

func TestBatchPacerDelays(t *testing.T) {
	if p := NewBatchPacer(50, nil); p.BatchDelay != DefaultBatchDelay {
		t.Errorf("expected %v, got %v", DefaultBatchDelay, p.BatchDelay)
	}
	if p := NewBatchPacer(1, nil); p.BatchDelay != SingleItemBatchDelay {
		t.Errorf("single item batches should wait %v, got %v", SingleItemBatchDelay, p.BatchDelay)
	}
	if p := NewBatchPacer(0, nil); p.BatchSize != DefaultBatchSize {
		t.Errorf("expected default batch size, got %d", p.BatchSize)
	}
}

func TestPacerSkipsDelayAfterLastBatch(t *testing.T) {
	rec := &sleepRecorder{}
	p := NewBatchPacer(10, rec.sleep)
	ctx := context.Background()

	for _, batch := range p.Batches(25) {
		if err := p.AfterBatch(ctx, batch[1], 25); err != nil {
			t.Fatalf("AfterBatch: %v", err)
		}
	}
	if len(rec.delays) != 2 {
		t.Fatalf("expected 2 pauses between 3 batches, got %d", len(rec.delays))
	}
}

func TestRecordPacer(t *testing.T) {
	rec := &sleepRecorder{}
	p := NewRecordPacer(RollingRecordDelay, rec.sleep)

	for i := 0; i < 3; i++ {
		if err := p.AfterRecord(context.Background()); err != nil {
			t.Fatalf("AfterRecord: %v", err)
		}
	}
	want := []time.Duration{RollingRecordDelay, RollingRecordDelay, RollingRecordDelay}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Minute); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep ignored cancellation")
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("short sleep failed: %v", err)
	}
}
