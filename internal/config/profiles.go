package config

import (
	"fmt"
)

// Profiles имена поддерживаемых профилей
var Profiles = []string{"safe", "balanced", "fast", "paranoid"}

// ApplyProfile применяет профиль производительности к конфигурации
func ApplyProfile(cfg *Config, profile string) error {
	switch profile {
	case "safe":
		cfg.Wipe.ChunkSize = 4 * 1024 // 4KB
		cfg.Wipe.MaxSpeedMBps = 50
		cfg.Verify.SampleRatio = 0.10
		cfg.Verify.MinBlocks = 64
	case "balanced":
		cfg.Wipe.ChunkSize = 1024 * 1024 // 1MB
		cfg.Wipe.MaxSpeedMBps = 0
		cfg.Verify.SampleRatio = 0.01
		cfg.Verify.MinBlocks = 16
	case "fast":
		cfg.Wipe.ChunkSize = 4 * 1024 * 1024 // 4MB
		cfg.Wipe.MaxSpeedMBps = 0            // unlimited
		cfg.Verify.SampleRatio = 0.005
		cfg.Verify.MinBlocks = 8
	case "paranoid":
		cfg.Wipe.ChunkSize = 1024 * 1024 // 1MB
		cfg.Wipe.MaxSpeedMBps = 0
		cfg.Verify.SampleRatio = 1 // полная проверка, удваивает объём I/O
		cfg.Verify.MinBlocks = 1
	default:
		return fmt.Errorf("неизвестный профиль: %s", profile)
	}
	return nil
}
