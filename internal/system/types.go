package system

import (
	"context"
	"fmt"

	"wipecert_enterprise/internal/wipe"
)

// Lister перечисляет цели затирания. Ядро доверяет размеру и типу носителя
// как есть и не перепроверяет их.
type Lister interface {
	ListTargets(ctx context.Context) ([]wipe.Target, error)
}

// StaticLister фиксированный список целей (тесты, заранее известные устройства)
type StaticLister []wipe.Target

func (s StaticLister) ListTargets(ctx context.Context) ([]wipe.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]wipe.Target, len(s))
	copy(out, s)
	return out, nil
}

// FindTarget ищет цель по идентификатору или пути
func FindTarget(ctx context.Context, l Lister, idOrPath string) (wipe.Target, error) {
	targets, err := l.ListTargets(ctx)
	if err != nil {
		return wipe.Target{}, err
	}
	for _, t := range targets {
		if t.ID == idOrPath || t.Path == idOrPath {
			return t, nil
		}
	}
	return wipe.Target{}, fmt.Errorf("цель не найдена: %s", idOrPath)
}
