package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idem guards the finalize endpoint against double submission. A cashier
// retrying a timed-out finalize resends the same Idempotency-Key; the second
// attempt is refused instead of producing a second order.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func idemKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware reserves the key before the handler runs. Requests without the
// header pass through untouched, as does everything when Redis is not wired.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Idempotency-Key")
		if raw == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := idemKey(raw)
		ok, err := i.R.SetNX(r.Context(), key, "1", i.TTL).Result()
		if err != nil {
			// Redis trouble must not block checkout.
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = i.R.Expire(ctx, key, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
