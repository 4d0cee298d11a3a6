package wipe

import (
	"sync"
)

// progressDispatcher decouples the write path from a possibly slow consumer.
// Only the latest pending snapshot is kept, so publish never blocks and the
// consumer still sees a monotonic sequence.
type progressDispatcher struct {
	fn      ProgressFunc
	mu      sync.Mutex
	pending *ProgressInfo
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newProgressDispatcher(fn ProgressFunc) *progressDispatcher {
	d := &progressDispatcher{
		fn:   fn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if fn == nil {
		close(d.done)
		return d
	}
	go d.loop()
	return d
}

func (d *progressDispatcher) publish(p ProgressInfo) {
	if d.fn == nil {
		return
	}
	d.mu.Lock()
	d.pending = &p
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *progressDispatcher) take() *ProgressInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.pending
	d.pending = nil
	return p
}

func (d *progressDispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			if p := d.take(); p != nil {
				d.fn(*p)
			}
		case <-d.stop:
			// Доставляем последнее событие перед завершением
			if p := d.take(); p != nil {
				d.fn(*p)
			}
			return
		}
	}
}

// close flushes the last snapshot and waits for the consumer goroutine.
func (d *progressDispatcher) close() {
	if d.fn == nil {
		return
	}
	close(d.stop)
	<-d.done
}

// ChannelProgress адаптирует канал к ProgressFunc. Отправка неблокирующая:
// если получатель не успевает, промежуточные события отбрасываются.
func ChannelProgress(ch chan<- ProgressInfo) ProgressFunc {
	return func(p ProgressInfo) {
		select {
		case ch <- p:
		default:
		}
	}
}
