package wipe

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"wipecert_enterprise/internal/logging"
)

// memDevice in-memory Device. hook runs before every write attempt with the
// 1-based attempt number; a non-nil error fails that attempt.
type memDevice struct {
	mu     sync.Mutex
	data   []byte
	writes int
	syncs  int
	closed int
	hook   func(attempt int, off int64) error
	drop   func(off int64) bool
}

func newMemDevice(size int, fill byte) *memDevice {
	return &memDevice{data: bytes.Repeat([]byte{fill}, size)}
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	d.writes++
	attempt := d.writes
	hook := d.hook
	d.mu.Unlock()

	if hook != nil {
		if err := hook(attempt, off); err != nil {
			return 0, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, io.ErrShortWrite
	}
	if d.drop != nil && d.drop(off) {
		return len(p), nil
	}
	copy(d.data[off:], p)
	return len(p), nil
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *memDevice) Sync() error {
	d.mu.Lock()
	d.syncs++
	d.mu.Unlock()
	return nil
}

func (d *memDevice) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

func (d *memDevice) snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data...)
}

func (d *memDevice) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func testTarget(id string, size int, kind MediaKind) Target {
	return Target{ID: id, Path: "/dev/" + id, Size: uint64(size), Kind: kind, Writable: true}
}

func newTestOrchestrator(t *testing.T, dev Device, mutate ...func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		ChunkSize:       4096,
		MaxAttempts:     3,
		SampleRatio:     1,
		MinSampleBlocks: 1,
		Opener:          func(Target) (Device, error) { return dev, nil },
		Logger:          logging.Nop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewOrchestrator(opts)
}

func allBytes(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}
