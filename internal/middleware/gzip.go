package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// GZipConfig holds response compression settings
type GZipConfig struct {
	// MinimumSize is the smallest complete body worth compressing (default 500).
	// Streamed responses are compressed regardless.
	MinimumSize int `mapstructure:"minimum_size"`
	// Level is the gzip compression level, 1 through 9 (default 9).
	Level int `mapstructure:"level"`
	// ExcludedContentTypes are media type prefixes that are never compressed
	// (default text/event-stream).
	ExcludedContentTypes []string `mapstructure:"excluded_content_types"`
}

const defaultGZipMinimumSize = 500

func (c GZipConfig) withDefaults() GZipConfig {
	if c.MinimumSize <= 0 {
		c.MinimumSize = defaultGZipMinimumSize
	}
	if c.Level < gzip.BestSpeed || c.Level > gzip.BestCompression {
		c.Level = gzip.BestCompression
	}
	if c.ExcludedContentTypes == nil {
		c.ExcludedContentTypes = []string{"text/event-stream"}
	}
	return c
}

// GZip compresses responses for clients that accept gzip encoding. Bodies
// shorter than MinimumSize are sent as is unless the handler flushes.
func GZip(cfg GZipConfig) Middleware {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !acceptsGzip(r) || isWebSocket(r) {
				next.ServeHTTP(w, r)
				return
			}

			gw := &gzipResponseWriter{ResponseWriter: w, cfg: cfg, status: http.StatusOK}
			defer gw.finish()

			next.ServeHTTP(gw, r)
		})
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

// gzipResponseWriter buffers the start of the body until it knows whether
// compression applies.
type gzipResponseWriter struct {
	http.ResponseWriter
	cfg       GZipConfig
	status    int
	buf       []byte
	decided   bool
	gz        *gzip.Writer
	hijacked  bool
	headerSet bool
}

func (g *gzipResponseWriter) WriteHeader(code int) {
	if g.decided || g.headerSet {
		return
	}
	if code < 200 {
		g.ResponseWriter.WriteHeader(code)
		return
	}
	g.status = code
	g.headerSet = true
	if code == http.StatusNoContent || code == http.StatusNotModified {
		g.decide(false)
	}
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	if !g.decided {
		g.buf = append(g.buf, b...)
		if len(g.buf) >= g.cfg.MinimumSize {
			if err := g.decide(true); err != nil {
				return 0, err
			}
		}
		return len(b), nil
	}
	if g.gz != nil {
		return g.gz.Write(b)
	}
	return g.ResponseWriter.Write(b)
}

// Flush commits to compression; a flushing handler is streaming.
func (g *gzipResponseWriter) Flush() {
	if !g.decided {
		_ = g.decide(true)
	}
	if g.gz != nil {
		_ = g.gz.Flush()
	}
	_ = http.NewResponseController(g.ResponseWriter).Flush()
}

func (g *gzipResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, buf, err := http.NewResponseController(g.ResponseWriter).Hijack()
	if err == nil {
		g.hijacked = true
	}
	return conn, buf, err
}

func (g *gzipResponseWriter) Unwrap() http.ResponseWriter {
	return g.ResponseWriter
}

// decide sends the headers, compressing when wanted and the response allows
// it, then drains the buffer.
func (g *gzipResponseWriter) decide(compress bool) error {
	g.decided = true
	h := g.Header()

	if h.Get("Content-Type") == "" && len(g.buf) > 0 {
		h.Set("Content-Type", http.DetectContentType(g.buf))
	}
	if compress && (h.Get("Content-Encoding") != "" || g.excluded(h.Get("Content-Type"))) {
		compress = false
	}

	if compress {
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		h.Del("Content-Length")
		gz, err := gzip.NewWriterLevel(g.ResponseWriter, g.cfg.Level)
		if err != nil {
			return err
		}
		g.gz = gz
	}

	g.ResponseWriter.WriteHeader(g.status)

	buf := g.buf
	g.buf = nil
	if len(buf) == 0 {
		return nil
	}
	if g.gz != nil {
		_, err := g.gz.Write(buf)
		return err
	}
	_, err := g.ResponseWriter.Write(buf)
	return err
}

func (g *gzipResponseWriter) excluded(contentType string) bool {
	for _, prefix := range g.cfg.ExcludedContentTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// finish flushes whatever the handler left behind. A body that ended
// below MinimumSize goes out uncompressed.
func (g *gzipResponseWriter) finish() {
	if g.hijacked {
		return
	}
	if !g.decided {
		if !g.headerSet && len(g.buf) == 0 {
			return
		}
		_ = g.decide(false)
	}
	if g.gz != nil {
		_ = g.gz.Close()
	}
}
