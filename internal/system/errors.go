package system

import (
	"errors"
	"syscall"
)

// IsDeviceBusy устройство занято другим владельцем (смонтировано, открыто эксклюзивно)
func IsDeviceBusy(err error) bool {
	return err != nil && errors.Is(err, syscall.EBUSY)
}
