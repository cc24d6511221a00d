package tee

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// ResponseSaver is a wrapper around http.ResponseWriter that saves the response to a buffer.
// It optionally writes the response to the underlying http.ResponseWriter.
// Saving stops, and Overflowed reports true, once the body exceeds the configured limit.
type ResponseSaver struct {
	rw           http.ResponseWriter
	header       http.Header
	saved        http.Header
	body         *bytes.Buffer
	status       int
	wroteHeaders bool
	maxBody      int
	overflowed   bool
	// CreatedAt is when the saver was created, i.e. approximately when the request was forwarded.
	CreatedAt time.Time
}

// NewResponseSaver returns a new ResponseSaver.
// If w is not nil, the response will be written (tee'd) to it in addition to saving to buffer.
// A maxBody of 0 or less means no limit.
func NewResponseSaver(w http.ResponseWriter, maxBody int) *ResponseSaver {
	rs := &ResponseSaver{
		CreatedAt: time.Now(),
		rw:        w,
		body:      &bytes.Buffer{},
		header:    http.Header{},
		maxBody:   maxBody,
	}
	if w != nil {
		// share the header map so that headers set before proxying reach the client
		rs.header = w.Header()
	}
	return rs
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	// headers may change after this point, save them as sent
	t.saved = t.header.Clone()
	if t.rw != nil {
		t.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if !t.overflowed {
		if t.maxBody > 0 && t.body.Len()+len(b) > t.maxBody {
			t.overflowed = true
			t.body.Reset()
		} else {
			t.body.Write(b)
		}
	}
	if t.rw != nil {
		return t.rw.Write(b)
	}
	return len(b), nil
}

// Flush implements http.Flusher if the underlying writer does.
func (t *ResponseSaver) Flush() {
	if f, ok := t.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	if !t.wroteHeaders {
		return http.StatusOK
	}
	return t.status
}

// SavedHeader returns the header as it was when the status was written.
func (t *ResponseSaver) SavedHeader() http.Header {
	if t.saved == nil {
		return t.header.Clone()
	}
	return t.saved
}

// Overflowed reports whether the body exceeded the limit and was discarded.
func (t *ResponseSaver) Overflowed() bool {
	return t.overflowed
}

// Response returns the recorded response in HTTP/1.1 format.
// The given fields are left out, e.g. hop-by-hop or per-client fields.
func (t *ResponseSaver) Response(omit ...string) []byte {
	header := t.SavedHeader().Clone()
	for _, name := range omit {
		header.Del(name)
	}
	// the saved body is complete, so the length is known
	// (an empty body keeps the origin length, as in responses to HEAD)
	header.Del("Transfer-Encoding")
	if t.body.Len() > 0 || header.Get("Content-Length") == "" {
		header.Set("Content-Length", fmt.Sprint(t.body.Len()))
	}

	buf := &bytes.Buffer{}
	status := t.StatusCode()
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	header.Write(buf)
	buf.WriteString("\r\n")
	buf.Write(t.body.Bytes())
	return buf.Bytes()
}
