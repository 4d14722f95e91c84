package ordersync

import (
	"context"
	"time"
)

// Задержки по умолчанию между обращениями к магазину.
const (
	DefaultBatchSize     = 50
	DefaultBatchDelay    = 1500 * time.Millisecond
	SingleItemBatchDelay = 1000 * time.Millisecond
	RollingRecordDelay   = 300 * time.Millisecond
	LastFiftyRecordDelay = 500 * time.Millisecond
)

// SleepFunc ждёт d или отмены ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep реальная реализация SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer выдерживает паузы между пачками и отдельными заказами.
type Pacer struct {
	BatchSize   int
	BatchDelay  time.Duration
	RecordDelay time.Duration
	sleep       SleepFunc
}

// NewBatchPacer создаёт пейсер оконного режима с паузой после каждой полной пачки.
func NewBatchPacer(batchSize int, sleep SleepFunc) *Pacer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	delay := DefaultBatchDelay
	if batchSize == 1 {
		delay = SingleItemBatchDelay
	}
	return &Pacer{BatchSize: batchSize, BatchDelay: delay, sleep: sleep}
}

// NewRecordPacer создаёт пейсер последовательных режимов с паузой после каждого заказа.
func NewRecordPacer(delay time.Duration, sleep SleepFunc) *Pacer {
	return &Pacer{BatchSize: 1, RecordDelay: delay, sleep: sleep}
}

// Batches режет n элементов на полуинтервалы [start, end) размером BatchSize.
func (p *Pacer) Batches(n int) [][2]int {
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// AfterBatch ждёт BatchDelay, если после пачки, закончившейся на end, ещё остались элементы.
func (p *Pacer) AfterBatch(ctx context.Context, end, total int) error {
	if end >= total {
		return nil
	}
	return p.wait(ctx, p.BatchDelay)
}

// AfterRecord ждёт RecordDelay.
func (p *Pacer) AfterRecord(ctx context.Context) error {
	return p.wait(ctx, p.RecordDelay)
}

func (p *Pacer) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, d)
}
