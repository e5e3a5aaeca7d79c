//go:build windows || darwin

package logger

import (
	"fmt"
	"io"
	"runtime"
)

func newSysLog(_ string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("syslog is not available on %s", runtime.GOOS)
}
