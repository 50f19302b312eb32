package feed

import (
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/BadgerOps/mirrorgen/internal/safety"
)

// backoffDelay is exponential backoff with jitter: 1s doubling per attempt,
// plus up to half the delay at random.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	return base + jitter
}

// shouldRetry reports whether err is worth another attempt. Client errors
// other than 429 and oversized or undecodable bodies are final.
func shouldRetry(err error) bool {
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		return false
	}
	if ferr.StatusCode != 0 {
		return ferr.StatusCode >= 500 || ferr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, safety.ErrBodyTooLarge) || errors.Is(err, errDecode) {
		return false
	}
	return true
}
