package middleware

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"investpay/pkg/cache"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

// IdempotencyHeader names the client-supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyMiddleware replays the first response for repeated unsafe
// requests carrying the same Idempotency-Key.
type IdempotencyMiddleware struct {
	cache  cache.Store
	ttl    time.Duration
	wait   time.Duration
	logger logger.Logger
}

func NewIdempotencyMiddleware(store cache.Store, ttl time.Duration, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:  store,
		ttl:    ttl,
		wait:   5 * time.Second,
		logger: log,
	}
}

// Require rejects unsafe requests without a key. Keys are scoped to the
// authenticated account when one is present.
func (m *IdempotencyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut &&
			r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyHeader)
		if key == "" || len(key) > 128 {
			jsonError(w, http.StatusBadRequest, "Idempotency-Key header required")
			return
		}

		scope := "anon"
		if userID, ok := UserIDFromContext(r.Context()); ok {
			scope = userID.String()
		}
		dataKey := fmt.Sprintf("idempotency:data:%s:%s:%s", scope, r.Method, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s:%s", scope, r.Method, key)

		if m.replayCached(w, r, dataKey) {
			return
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, []byte(RequestIDFromContext(r.Context())), m.ttl)
		if err != nil {
			m.logger.Error("Idempotency lock failed", map[string]interface{}{"key": key, "error": err.Error()})
			jsonError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}
		if !ok {
			// Another request holds the key; wait for its response.
			deadline := time.Now().Add(m.wait)
			for time.Now().Before(deadline) {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
				if m.replayCached(w, r, dataKey) {
					return
				}
			}
			jsonError(w, http.StatusConflict, errors.ErrDuplicateRequest.Error())
			return
		}
		defer func() {
			_ = m.cache.Delete(context.WithoutCancel(r.Context()), lockKey)
		}()

		cw := newCaptureWriter(w, 1<<20)
		next.ServeHTTP(cw, r)

		if err := m.cacheResponse(context.WithoutCancel(r.Context()), dataKey, cw); err != nil {
			m.logger.Warn("Failed to cache idempotent response", map[string]interface{}{"key": key, "error": err.Error()})
		}
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey)
	if err != nil {
		if !stderrors.Is(err, cache.ErrMiss) {
			m.logger.Warn("Idempotency lookup failed", map[string]interface{}{"error": err.Error()})
		}
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

// cacheResponse stores completed responses. Server errors are not cached so
// the client may retry with the same key.
func (m *IdempotencyMiddleware) cacheResponse(ctx context.Context, dataKey string, cw *captureWriter) error {
	if cw.status == 0 || cw.status >= http.StatusInternalServerError || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	})
	if err != nil {
		return err
	}
	return m.cache.Set(ctx, dataKey, payload, m.ttl)
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	truncated bool
	status    int
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 && k != "X-Request-Id" {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	space := w.limit - len(w.buf)
	if len(p) > space {
		w.truncated = true
		w.buf = append(w.buf, p[:max(space, 0)]...)
	} else {
		w.buf = append(w.buf, p...)
	}
	return w.ResponseWriter.Write(p)
}
