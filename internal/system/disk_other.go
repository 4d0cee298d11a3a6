//go:build !linux

package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"wipecert_enterprise/internal/wipe"
)

const exclusiveFlag = 0

var errUnsupported = fmt.Errorf("перечисление устройств не поддерживается на %s", runtime.GOOS)

type unsupportedLister struct{}

// NewLister lister для текущей платформы
func NewLister() Lister {
	return unsupportedLister{}
}

func (unsupportedLister) ListTargets(ctx context.Context) ([]wipe.Target, error) {
	return nil, errUnsupported
}

// BlockDeviceSize не поддерживается вне Linux
func BlockDeviceSize(path string) (uint64, error) {
	return 0, errors.Join(errUnsupported, fmt.Errorf("path %s", path))
}

type device struct {
	*os.File
}
