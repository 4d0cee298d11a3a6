// Package wipe содержит ядро затирания: каталог методов и генератор проходов,
// политику выбора метода, оркестратор заданий с выборочной проверкой.
//
// Resuming a failed or cancelled job is not supported: every job starts at
// offset 0 of the first pass, so no pass is ever trusted without being
// rewritten in the same job.
package wipe

import (
	"fmt"
)

// Estimate ожидаемый объём записи для метода
type Estimate struct {
	Pattern     PatternKind
	Passes      int
	BytesPerRun uint64
}

// EstimateWrite returns how many bytes a completed job writes: one full target
// length per pass.
func EstimateWrite(k PatternKind, size uint64) (Estimate, error) {
	n := PassCount(k)
	if n == 0 {
		return Estimate{}, fmt.Errorf("неизвестный метод затирания: %s", k)
	}
	return Estimate{Pattern: k, Passes: n, BytesPerRun: uint64(n) * size}, nil
}
