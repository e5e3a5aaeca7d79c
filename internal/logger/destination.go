package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gookit/color"
)

// Destination is a log destination.
type Destination int

const (
	// DestinationStdout writes logs to the standard output.
	DestinationStdout Destination = iota

	// DestinationFile writes logs to a file.
	DestinationFile

	// DestinationSyslog writes logs to the system logger.
	DestinationSyslog
)

type destination interface {
	log(t time.Time, level Level, format string, args ...any)
	close()
}

// https://golang.org/src/log/log.go#L78
func itoa(buf *bytes.Buffer, i int, wid int) {
	var b [20]byte
	bp := len(b) - 1
	for i >= 10 || wid > 1 {
		wid--
		q := i / 10
		b[bp] = byte('0' + i - q*10)
		bp--
		i = q
	}
	b[bp] = byte('0' + i)
	buf.Write(b[bp:])
}

func writeTime(buf *bytes.Buffer, t time.Time, useColor bool) {
	var intbuf bytes.Buffer

	year, month, day := t.Date()
	itoa(&intbuf, year, 4)
	intbuf.WriteByte('/')
	itoa(&intbuf, int(month), 2)
	intbuf.WriteByte('/')
	itoa(&intbuf, day, 2)
	intbuf.WriteByte(' ')

	hour, minute, sec := t.Clock()
	itoa(&intbuf, hour, 2)
	intbuf.WriteByte(':')
	itoa(&intbuf, minute, 2)
	intbuf.WriteByte(':')
	itoa(&intbuf, sec, 2)
	intbuf.WriteByte(' ')

	if useColor {
		buf.WriteString(color.RenderString(color.Gray.Code(), intbuf.String()))
	} else {
		buf.WriteString(intbuf.String())
	}
}

func writeLevel(buf *bytes.Buffer, level Level, useColor bool) {
	if useColor {
		var code string
		switch level {
		case Debug:
			code = color.Debug.Code()
		case Info:
			code = color.Green.Code()
		case Warn:
			code = color.Warn.Code()
		case Error:
			code = color.Error.Code()
		}
		buf.WriteString(color.RenderString(code, level.short()))
	} else {
		buf.WriteString(level.short())
	}
	buf.WriteByte(' ')
}

func writeContent(buf *bytes.Buffer, format string, args []any) {
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

func writeStructured(buf *bytes.Buffer, t time.Time, level Level, format string, args []any) {
	buf.WriteString(`{"timestamp":"`)
	buf.WriteString(t.Format(time.RFC3339Nano))
	buf.WriteString(`","level":"`)
	buf.WriteString(level.short())
	buf.WriteString(`","message":`)
	msg, _ := json.Marshal(fmt.Sprintf(format, args...))
	buf.Write(msg)
	buf.WriteString("}\n")
}

func writeEntry(buf *bytes.Buffer, structured bool, t time.Time, level Level, format string, args []any) {
	if structured {
		writeStructured(buf, t, level, format, args)
	} else {
		writeTime(buf, t, false)
		writeLevel(buf, level, false)
		writeContent(buf, format, args)
	}
}
