package logger

import (
	"bytes"
	"os"
	"time"
)

type destinationFile struct {
	structured bool
	file       *os.File
	buf        bytes.Buffer
}

func newDestinationFile(structured bool, filePath string) (destination, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &destinationFile{
		structured: structured,
		file:       f,
	}, nil
}

func (d *destinationFile) log(t time.Time, level Level, format string, args ...any) {
	d.buf.Reset()
	writeEntry(&d.buf, d.structured, t, level, format, args)
	d.file.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationFile) close() {
	d.file.Close()
}
