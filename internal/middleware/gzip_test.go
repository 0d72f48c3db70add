package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	return req
}

func gunzip(t *testing.T, body io.Reader) string {
	t.Helper()
	reader, err := gzip.NewReader(body)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(content)
}

func TestGZip_LargeBody_Compressed(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("x", 1000)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte(payload))
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", rr.Header().Get("Vary"))
	assert.Empty(t, rr.Header().Get("Content-Length"))
	assert.Equal(t, payload, gunzip(t, rr.Body))
}

func TestGZip_SmallBody_NotCompressed(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("tiny"))
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, rr.Header().Get("Content-Encoding"))
	assert.Equal(t, "tiny", rr.Body.String())
}

func TestGZip_MinimumSize_Boundary(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("0123456789"))
	})

	below := httptest.NewRecorder()
	GZip(GZipConfig{MinimumSize: 11})(handler).ServeHTTP(below, gzipRequest())
	assert.Empty(t, below.Header().Get("Content-Encoding"))

	at := httptest.NewRecorder()
	GZip(GZipConfig{MinimumSize: 10})(handler).ServeHTTP(at, gzipRequest())
	assert.Equal(t, "gzip", at.Header().Get("Content-Encoding"))
	assert.Equal(t, "0123456789", gunzip(t, at.Body))
}

func TestGZip_ManySmallWrites_Compressed(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 100; i++ {
			_, _ = w.Write([]byte("chunk-"))
		}
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	assert.Equal(t, strings.Repeat("chunk-", 100), gunzip(t, rr.Body))
}

func TestGZip_Flush_CompressesStream(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("a"))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("b"))
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.True(t, rr.Flushed)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	assert.Equal(t, "ab", gunzip(t, rr.Body))
}

func TestGZip_NoGzipAccept_DoesNotCompress(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("y", 1000)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	})

	for _, accept := range []string{"", "deflate", "gzip;q=0"} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Accept-Encoding", accept)
		rr := httptest.NewRecorder()

		GZip(GZipConfig{})(handler).ServeHTTP(rr, req)

		assert.Empty(t, rr.Header().Get("Content-Encoding"), accept)
		assert.Equal(t, payload, rr.Body.String(), accept)
	}
}

func TestGZip_EventStream_DoesNotCompress(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(strings.Repeat("data: x\n\n", 100)))
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.Empty(t, rr.Header().Get("Content-Encoding"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "data: x"))
}

func TestGZip_AlreadyEncoded_PassesThrough(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("z", 1000)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write([]byte(payload))
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.Equal(t, "br", rr.Header().Get("Content-Encoding"))
	assert.Equal(t, payload, rr.Body.String())
}

func TestGZip_DetectsContentTypeBeforeCompressing(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>" + strings.Repeat("p", 1000) + "</html>"))
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
}

func TestGZip_NoContent_NoBody(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	rr := httptest.NewRecorder()

	GZip(GZipConfig{})(handler).ServeHTTP(rr, gzipRequest())

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Header().Get("Content-Encoding"))
	assert.Zero(t, rr.Body.Len())
}

func TestGZipConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := GZipConfig{Level: 42}.withDefaults()

	assert.Equal(t, 500, cfg.MinimumSize)
	assert.Equal(t, gzip.BestCompression, cfg.Level)
	assert.Equal(t, []string{"text/event-stream"}, cfg.ExcludedContentTypes)
}
