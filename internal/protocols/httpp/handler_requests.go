package httpp

import (
	"net/http"
	"strings"
	"time"
)

// rejectInvalidPaths answers with 400 to requests whose path is not absolute.
func rejectInvalidPaths(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/") {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		h.ServeHTTP(w, r)
	})
}

type deadlineWriter struct {
	http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func (w *deadlineWriter) refresh() {
	w.rc.SetWriteDeadline(time.Now().Add(w.timeout)) //nolint:errcheck
}

func (w *deadlineWriter) WriteHeader(statusCode int) {
	w.refresh()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	w.refresh()
	return w.ResponseWriter.Write(p)
}

// Unwrap allows http.ResponseController to reach the underlying writer.
func (w *deadlineWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// withWriteDeadline moves the write deadline forward before every write,
// so that large fragments are not cut by a global timeout.
func withWriteDeadline(h http.Handler, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(&deadlineWriter{
			ResponseWriter: w,
			rc:             http.NewResponseController(w),
			timeout:        timeout,
		}, r)
	})
}
