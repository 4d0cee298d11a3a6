package wipe

import (
	"context"
	"io"
	"sync"

	"golang.org/x/time/rate"
)

// ThrottledWriter ограничивает скорость позиционной записи на устройство
// (thread-safe). Нулевой лимит означает запись без ограничений.
type ThrottledWriter struct {
	dev     io.WriterAt
	limiter *rate.Limiter
	mu      sync.Mutex
}

// NewThrottledWriter создает новый throttled writer. burst должен быть не
// меньше максимального размера одной записи.
func NewThrottledWriter(dev io.WriterAt, bytesPerSecond int64, burst int) *ThrottledWriter {
	tw := &ThrottledWriter{dev: dev}
	if bytesPerSecond > 0 {
		if burst <= 0 {
			burst = int(bytesPerSecond)
		}
		tw.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
	return tw
}

// Wait блокирует до появления квоты на n байт. Ошибка возможна только при
// отмене контекста.
func (tw *ThrottledWriter) Wait(ctx context.Context, n int) error {
	if tw.limiter == nil || n <= 0 {
		return nil
	}
	if n > tw.limiter.Burst() {
		n = tw.limiter.Burst()
	}
	return tw.limiter.WaitN(ctx, n)
}

// WriteAt записывает данные; квота запрашивается отдельно через Wait,
// чтобы повтор чанка не расходовал её повторно
func (tw *ThrottledWriter) WriteAt(data []byte, off int64) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.dev.WriteAt(data, off)
}
