package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dropforge/dropengine/internal/idempotency"
	"github.com/dropforge/dropengine/pkg/httputil"
)

// IdempotencyKeyHeader is the client-supplied settlement token.
const IdempotencyKeyHeader = "Idempotency-Key"

type idempotencyKeyCtxKey struct{}

// IdempotencyKeyFromContext returns the key the idempotency middleware
// resolved for this request, or "" when the middleware is not mounted.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyCtxKey{}).(string); ok {
		return key
	}
	return ""
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// responseRecorder buffers the handler's response so a successful body can be
// cached for replay.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *responseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// Idempotency replays cached responses for repeated settlement requests and
// rejects concurrent duplicates with 409. The key comes from the
// Idempotency-Key header, or a derived body hash as a weaker fallback. When
// the cache store is down the request proceeds uncached; the settlement
// transaction's own idempotency record still guards against double-apply.
func Idempotency(store idempotency.Store, responseTTL time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "could not read request body"},
				})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				key = idempotency.GenerateKey(body, r.URL.Path, time.Now().UTC())
			}
			ctx := context.WithValue(r.Context(), idempotencyKeyCtxKey{}, key)
			r = r.WithContext(ctx)

			result, err := store.Check(ctx, key)
			if err != nil {
				logger.WarnContext(ctx, "idempotency store unavailable, proceeding uncached",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !result.IsNew {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(result.CachedResponse)
				return
			}

			acquired, err := store.AcquireProcessingLock(ctx, key)
			if err != nil {
				logger.WarnContext(ctx, "idempotency lock unavailable, proceeding unlocked",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "CONFLICT", Message: "request with this idempotency key is already in progress, retry shortly"},
				})
				return
			}
			defer func() {
				if err := store.ReleaseProcessingLock(context.WithoutCancel(ctx), key); err != nil {
					logger.WarnContext(ctx, "failed to release idempotency processing lock",
						slog.String("error", err.Error()),
					)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				if err := store.StoreResponse(ctx, key, rec.body.Bytes(), responseTTL); err != nil {
					logger.WarnContext(ctx, "failed to cache idempotent response",
						slog.String("error", err.Error()),
					)
				}
			}
		})
	}
}
