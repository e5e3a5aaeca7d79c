package logger

import (
	"bytes"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

type destinationStdout struct {
	structured bool
	stdout     io.Writer

	useColor bool
	buf      bytes.Buffer
}

func newDestionationStdout(structured bool, stdout io.Writer) destination {
	useColor := false
	if f, ok := stdout.(*os.File); ok && !structured {
		useColor = term.IsTerminal(int(f.Fd()))
	}

	return &destinationStdout{
		structured: structured,
		stdout:     stdout,
		useColor:   useColor,
	}
}

func (d *destinationStdout) log(t time.Time, level Level, format string, args ...any) {
	d.buf.Reset()

	if d.useColor {
		writeTime(&d.buf, t, true)
		writeLevel(&d.buf, level, true)
		writeContent(&d.buf, format, args)
	} else {
		writeEntry(&d.buf, d.structured, t, level, format, args)
	}

	d.stdout.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationStdout) close() {
}
