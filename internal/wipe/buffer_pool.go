package wipe

import (
	"sync"
)

// BufferPool управляет пулом буферов чанков, чтобы генератор и проверка
// не создавали новый буфер на каждое задание
type BufferPool struct {
	pools map[int]*sync.Pool
	mu    sync.RWMutex
}

var globalBufferPool = &BufferPool{
	pools: make(map[int]*sync.Pool),
}

// Стандартные размеры пулов (степени двойки до максимального чанка)
var poolSizes = []int{512, 4096, 16384, 65536, 262144, 1048576, 4194304, MaxChunkSize}

// GetBuffer получает буфер из пула или создает новый
func GetBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	return globalBufferPool.getBuffer(size)
}

// PutBuffer возвращает буфер в пул
func PutBuffer(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	globalBufferPool.putBuffer(buf)
}

func (bp *BufferPool) getBuffer(size int) []byte {
	poolSize := bp.getPoolSize(size)

	bp.mu.RLock()
	pool, exists := bp.pools[poolSize]
	bp.mu.RUnlock()

	if !exists {
		bp.mu.Lock()
		pool, exists = bp.pools[poolSize]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					b := make([]byte, poolSize)
					return &b
				},
			}
			bp.pools[poolSize] = pool
		}
		bp.mu.Unlock()
	}

	buf := *(pool.Get().(*[]byte))
	return buf[:size]
}

func (bp *BufferPool) putBuffer(buf []byte) {
	capacity := cap(buf)
	poolSize := bp.getPoolSize(capacity)
	if poolSize != capacity {
		return
	}

	bp.mu.RLock()
	pool, exists := bp.pools[poolSize]
	bp.mu.RUnlock()

	if exists {
		// Буфер может содержать ключевой поток случайного прохода
		full := buf[:capacity]
		clear(full)
		pool.Put(&full)
	}
}

func (bp *BufferPool) getPoolSize(size int) int {
	for _, poolSize := range poolSizes {
		if size <= poolSize {
			return poolSize
		}
	}
	// Округляем до 4KB
	return ((size + 4095) / 4096) * 4096
}
