package system

import (
	"fmt"
	"os"
	"path/filepath"

	"wipecert_enterprise/internal/wipe"
)

// FileTarget describes a regular file as a wipe target. The ID is the
// resolved absolute path, so two spellings of one file share a registry slot.
func FileTarget(path string) (wipe.Target, error) {
	abs, err := ValidatePath(path)
	if err != nil {
		return wipe.Target{}, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return wipe.Target{}, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return wipe.Target{}, err
	}
	if !info.Mode().IsRegular() {
		return wipe.Target{}, fmt.Errorf("не обычный файл: %s", resolved)
	}

	return wipe.Target{
		ID:       "file:" + resolved,
		Path:     resolved,
		Size:     uint64(info.Size()),
		Kind:     wipe.MediaFile,
		Writable: CheckWriteAccess(resolved),
	}, nil
}

// CheckWriteAccess проверяет, что путь можно открыть на запись
func CheckWriteAccess(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// ValidatePath validates and normalizes path
func ValidatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	// Expand environment variables
	expanded := os.ExpandEnv(path)

	// Convert to absolute path
	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	// Check existence
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("path does not exist: %s", absPath)
	}

	return absPath, nil
}

// OpenDevice открывает цель для позиционной записи и чтения. Блочные
// устройства открываются эксклюзивно там, где ОС это поддерживает.
func OpenDevice(t wipe.Target) (wipe.Device, error) {
	flags := os.O_RDWR
	if t.Kind != wipe.MediaFile {
		flags |= exclusiveFlag
	}
	f, err := os.OpenFile(t.Path, flags, 0)
	if err != nil {
		if IsDeviceBusy(err) {
			return nil, fmt.Errorf("устройство %s занято (смонтировано?): %w", t.Path, err)
		}
		return nil, err
	}
	return &device{File: f}, nil
}
