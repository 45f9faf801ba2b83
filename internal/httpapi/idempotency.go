package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	// IdempotencyHeader is the standard HTTP header for idempotency keys
	IdempotencyHeader = "Idempotency-Key"

	// IdempotencyCacheTTL defines how long responses are cached in Redis
	IdempotencyCacheTTL = 24 * time.Hour

	// LockTimeout prevents indefinite locks if a request crashes
	LockTimeout = 10 * time.Second

	redisKeyPrefix = "idempotency:"
	lockKeyPrefix  = "lock:"
)

// responseWriterWrapper captures the status code and body for caching.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriterWrapper) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

type cachedResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key and
// rejects a concurrent duplicate with 409. Only 2xx responses are cached.
// Requests without the header pass straight through.
func Idempotency(rdb *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idempotencyKey := r.Header.Get(IdempotencyHeader)
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			scope := r.Method + " " + r.URL.Path + " " + idempotencyKey
			cacheKey := redisKeyPrefix + scope
			lockKey := lockKeyPrefix + scope

			if cached, err := rdb.Get(ctx, cacheKey).Result(); err == nil {
				var resp cachedResponse
				if err := json.Unmarshal([]byte(cached), &resp); err == nil {
					log.WithField("idempotencyKey", idempotencyKey).Debug("Idempotency cache hit")
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(resp.Status)
					w.Write([]byte(resp.Body))
					return
				}
			} else if err != redis.Nil {
				log.WithFields(log.Fields{"idempotencyKey": idempotencyKey, "error": err}).Error("Idempotency cache lookup failed")
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, "processing", LockTimeout).Result()
			if err != nil {
				log.WithFields(log.Fields{"idempotencyKey": idempotencyKey, "error": err}).Error("Idempotency lock acquisition failed")
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, "a request with this idempotency key is currently being processed")
				return
			}

			defer func() {
				if err := rdb.Del(context.Background(), lockKey).Err(); err != nil {
					log.WithFields(log.Fields{"idempotencyKey": idempotencyKey, "error": err}).Warn("Failed to release idempotency lock")
				}
			}()

			wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			if wrapper.statusCode >= 200 && wrapper.statusCode < 300 {
				data, _ := json.Marshal(cachedResponse{Status: wrapper.statusCode, Body: wrapper.body.String()})
				if err := rdb.Set(context.Background(), cacheKey, data, IdempotencyCacheTTL).Err(); err != nil {
					log.WithFields(log.Fields{"idempotencyKey": idempotencyKey, "error": err}).Warn("Failed to cache response")
				}
			}
		})
	}
}
