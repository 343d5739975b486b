package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"time"
)

// StatusRecorder wraps an http.ResponseWriter to capture the final status
// code. The optional ResponseWriter interfaces are passed through so static
// file serving and streaming responses keep working behind the middleware.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

// NewStatusRecorder wraps w, reporting 200 when the handler never calls
// WriteHeader.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the last status code written to the response.
func (sr *StatusRecorder) Status() int {
	return sr.status
}

func (sr *StatusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *StatusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (sr *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (sr *StatusRecorder) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := sr.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

func (sr *StatusRecorder) ReadFrom(r io.Reader) (int64, error) {
	if readerFrom, ok := sr.ResponseWriter.(io.ReaderFrom); ok {
		return readerFrom.ReadFrom(r)
	}
	return io.Copy(sr.ResponseWriter, r)
}

// HTTPMiddleware times each request and feeds the method, normalised path,
// and status into rec, falling back to the process-wide recorder when rec is
// nil.
func HTTPMiddleware(rec *Recorder, next http.Handler) http.Handler {
	if rec == nil {
		rec = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		rec.ObserveRequest(r.Method, r.URL.Path, sr.Status(), time.Since(start))
	})
}
