package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"wipecert_enterprise/internal/config"
	"wipecert_enterprise/internal/wipe"
)

// Policy операторская политика защиты целей
type Policy struct {
	excluded  map[string]bool
	protected []string
}

// NewPolicy строит политику из конфигурации
func NewPolicy(cfg *config.Config) *Policy {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Policy{excluded: make(map[string]bool)}
	for _, e := range cfg.Security.ExcludedTargets {
		p.excluded[e] = true
	}
	for _, path := range cfg.Security.ProtectedPaths {
		p.protected = append(p.protected, filepath.Clean(path))
	}
	return p
}

// SecurityChecks проверки окружения перед разрушающими операциями
func SecurityChecks(cfg *config.Config, needDevices bool) error {
	if cfg == nil {
		cfg = config.Default()
	}

	if needDevices && !IsAdmin() {
		return fmt.Errorf("для работы с блочными устройствами требуются права root")
	}

	return nil
}

// Проверка прав администратора
func IsAdmin() bool {
	return os.Geteuid() == 0
}

// Apply marks excluded and protected targets as system volumes so the
// orchestrator's safety gate rejects them.
func (p *Policy) Apply(t wipe.Target) wipe.Target {
	if p.ShouldSkip(t) {
		t.IsSystem = true
	}
	return t
}

// ApplyAll применяет политику к списку целей
func (p *Policy) ApplyAll(targets []wipe.Target) []wipe.Target {
	out := make([]wipe.Target, len(targets))
	for i, t := range targets {
		out[i] = p.Apply(t)
	}
	return out
}

// ShouldSkip цель исключена оператором или лежит под защищённым путём
func (p *Policy) ShouldSkip(t wipe.Target) bool {
	if p.excluded[t.ID] || p.excluded[t.Path] {
		return true
	}
	if t.Serial != "" && p.excluded[t.Serial] {
		return true
	}

	path := filepath.Clean(t.Path)
	for _, prot := range p.protected {
		if path == prot {
			return true
		}
		// Файлы внутри защищённых каталогов ("/" защищает только себя)
		if t.Kind == wipe.MediaFile && prot != "/" && strings.HasPrefix(path, prot+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
