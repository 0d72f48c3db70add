package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/forgo/trellis/internal/async"
	"github.com/forgo/trellis/internal/model"
)

// IdempotencyStore remembers responses to requests carrying an
// Idempotency-Key header
type IdempotencyStore struct {
	mu       sync.Mutex
	entries  map[string]*idempotencyEntry
	ttl      time.Duration
	maxBody  int64
	stopOnce sync.Once
	stopChan chan struct{}
}

type idempotencyEntry struct {
	result    *async.Future[*recordedResponse]
	resolve   func(*recordedResponse)
	expiresAt time.Time
}

type recordedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// IdempotencyConfig holds configuration for idempotency middleware
type IdempotencyConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`            // How long to keep results (default 24h)
	Cleanup      time.Duration `mapstructure:"cleanup"`        // Cleanup interval (default 1h)
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"` // Largest request body fingerprinted (default 1 MiB)
}

// NewIdempotencyStore creates a new idempotency store
func NewIdempotencyStore(cfg IdempotencyConfig) *IdempotencyStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Cleanup <= 0 {
		cfg.Cleanup = time.Hour
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	store := &IdempotencyStore{
		entries:  make(map[string]*idempotencyEntry),
		ttl:      cfg.TTL,
		maxBody:  cfg.MaxBodyBytes,
		stopChan: make(chan struct{}),
	}

	go store.cleanupLoop(cfg.Cleanup)

	return store
}

// Stop stops the cleanup goroutine
func (s *IdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *IdempotencyStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopChan:
			return
		}
	}
}

// cleanup drops completed entries that expired before now
func (s *IdempotencyStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if entry.resolve == nil && entry.expiresAt.Before(now) {
			delete(s.entries, key)
		}
	}
}

// claim returns the entry for key. owner is true when the caller must
// produce the response; otherwise it awaits the entry's result.
func (s *IdempotencyStore) claim(key string, now time.Time) (entry *idempotencyEntry, owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && (e.resolve != nil || e.expiresAt.After(now)) {
		return e, false
	}

	done := make(chan *recordedResponse, 1)
	e := &idempotencyEntry{}
	e.result = async.Go(context.Background(), func(context.Context) (*recordedResponse, error) {
		return <-done, nil
	})
	e.resolve = func(resp *recordedResponse) { done <- resp }
	s.entries[key] = e
	return e, true
}

// complete publishes resp to waiters; a nil resp forgets the key so a retry
// runs again.
func (s *IdempotencyStore) complete(key string, e *idempotencyEntry, resp *recordedResponse) {
	s.mu.Lock()
	resolve := e.resolve
	e.resolve = nil
	if resp == nil {
		delete(s.entries, key)
	} else {
		e.expiresAt = time.Now().Add(s.ttl)
	}
	s.mu.Unlock()

	resolve(resp)
}

// fingerprint hashes the caller identity, idempotency key and request shape
func fingerprint(caller, idempotencyKey, method, path string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{caller, idempotencyKey, method, path} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// recordingWriter copies the response it forwards
type recordingWriter struct {
	*responseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.responseWriter.Write(b)
}

func replay(w http.ResponseWriter, resp *recordedResponse) {
	for k, v := range resp.headers {
		w.Header()[k] = append([]string(nil), v...)
	}
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// Idempotency returns middleware that replays responses for POST and PATCH
// requests repeating an Idempotency-Key. Concurrent duplicates wait for the
// first request to finish. Server errors are not remembered.
func Idempotency(store *IdempotencyStore) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := r.Header.Get("Idempotency-Key")
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, store.maxBody+1))
			if err != nil {
				Raise(w, r, model.NewBadRequestError("unreadable request body"))
				return
			}
			if int64(len(body)) > store.maxBody {
				err, _ := model.NewHTTPError(http.StatusRequestEntityTooLarge)
				Raise(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := fingerprint(ClientKey(r), idempotencyKey, r.Method, r.URL.Path, body)

			entry, owner := store.claim(key, time.Now())
			if !owner {
				resp, err := entry.result.Await(r.Context())
				if err != nil {
					Raise(w, r, err)
					return
				}
				if resp == nil {
					err, _ := model.NewHTTPError(http.StatusConflict,
						model.WithDetail("original request with this idempotency key failed"))
					Raise(w, r, err)
					return
				}
				replay(w, resp)
				return
			}

			rec := &recordingWriter{responseWriter: wrapWriter(w)}
			var resp *recordedResponse
			defer func() {
				store.complete(key, entry, resp)
			}()

			next.ServeHTTP(rec, r)

			if rec.statusCode < http.StatusInternalServerError && rec.wroteHeader {
				resp = &recordedResponse{
					status:  rec.statusCode,
					headers: rec.Header().Clone(),
					body:    bytes.Clone(rec.body.Bytes()),
				}
			}
		})
	}
}
