package logger

import (
	"bytes"
	"io"
	"time"
)

type destinationSysLog struct {
	structured bool
	syslog     io.WriteCloser
	buf        bytes.Buffer
}

func newDestinationSyslog(structured bool) (destination, error) {
	syslog, err := newSysLog("livefmp4")
	if err != nil {
		return nil, err
	}

	return &destinationSysLog{
		structured: structured,
		syslog:     syslog,
	}, nil
}

func (d *destinationSysLog) log(t time.Time, level Level, format string, args ...any) {
	d.buf.Reset()
	writeEntry(&d.buf, d.structured, t, level, format, args)
	d.syslog.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationSysLog) close() {
	d.syslog.Close()
}
