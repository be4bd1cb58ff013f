package transport

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxLoggedBodyBytes bounds how much of a request/response body gets logged
// at debug level, matching auth.maxTokenResponseBytes's order of magnitude.
const maxLoggedBodyBytes = 8 * 1024

// LoggingRoundTripper wraps an http.RoundTripper to emit sanitized debug
// traces of upstream HTTP traffic. URLs and Authorization headers are
// redacted before logging. Nothing in this module installs it: it takes
// effect only when the SSE or Streamable HTTP transport is given an
// *http.Client whose Transport is a LoggingRoundTripper.
type LoggingRoundTripper struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func NewLoggingRoundTripper(base http.RoundTripper, logger *zap.Logger) *LoggingRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingRoundTripper{base: base, logger: logger.Named("transport.http-trace")}
}

func (t *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	sanitizedURL := SanitizeURL(req.URL.String())

	t.logger.Debug("http request",
		zap.String("method", req.Method),
		zap.String("url", sanitizedURL),
		zap.String("authorization", SanitizeHeaderValue(req.Header.Get("Authorization"))))

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		t.logger.Debug("http request failed", zap.String("url", sanitizedURL), zap.Duration("duration", duration), zap.Error(err))
		return nil, err
	}

	t.logger.Debug("http response",
		zap.String("url", sanitizedURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return resp, nil
	}
	resp.Body = newBufferedLoggingReader(resp.Body, t.logger, sanitizedURL)
	return resp, nil
}

// bufferedLoggingReader logs a non-streaming response body once fully read,
// truncated to maxLoggedBodyBytes.
type bufferedLoggingReader struct {
	rc     io.ReadCloser
	logger *zap.Logger
	url    string
	buf    bytes.Buffer
	mu     sync.Mutex
	logged bool
}

func newBufferedLoggingReader(rc io.ReadCloser, logger *zap.Logger, url string) io.ReadCloser {
	return &bufferedLoggingReader{rc: rc, logger: logger, url: url}
}

func (r *bufferedLoggingReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.mu.Lock()
		if r.buf.Len() < maxLoggedBodyBytes {
			r.buf.Write(p[:min(n, maxLoggedBodyBytes-r.buf.Len())])
		}
		r.mu.Unlock()
	}
	if err == io.EOF && !r.logged {
		r.logged = true
		r.logger.Debug("http response body", zap.String("url", r.url), zap.ByteString("body", r.buf.Bytes()))
	}
	return n, err
}

func (r *bufferedLoggingReader) Close() error {
	return r.rc.Close()
}
