package pacer

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// reloadPeriod is the interval at which a varying load resamples its rate.
const reloadPeriod = 100 * time.Millisecond

// retryDelay is the sleep issued by the rate-limited stream loop while
// tokens are negative.
const retryDelay = 4 * time.Microsecond

// TokenBucket implements the rate-limited stream loop's pacer: a balance
// that can go negative (debited on every write, credited every iteration)
// and, for varying load, a lognormal-resampled rate every 100ms.
// golang.org/x/time/rate.Limiter supplies the smoothed rate-to-credit
// conversion (its Limit is the token reload rate in bytes/sec); TokenBucket
// layers signed-balance debit/credit/retry semantics on top rather than
// trying to coax negative balances and fixed-window resampling out of the
// limiter's own Allow/Reserve API, which assumes a non-negative bucket.
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter

	meanBitsPerSec float64
	varianceBits   float64
	varyLoad       bool

	tokens       float64
	lastIter     time.Time
	lastReload   time.Time
	rnd          *rand.Rand
}

// NewTokenBucket creates a token bucket targeting rateBitsPerSec bits/sec.
// When varyLoad is set, the effective rate is resampled from a lognormal
// distribution with mean rateBitsPerSec and the given variance every 100ms.
func NewTokenBucket(rateBitsPerSec, varianceBits float64, varyLoad bool) *TokenBucket {
	now := time.Now()
	b := &TokenBucket{
		limiter:        rate.NewLimiter(rate.Limit(rateBitsPerSec/8), 1<<30),
		meanBitsPerSec: rateBitsPerSec,
		varianceBits:   varianceBits,
		varyLoad:       varyLoad,
		lastIter:       now,
		lastReload:     now,
		rnd:            rand.New(rand.NewSource(now.UnixNano())),
	}
	return b
}

// Tick folds elapsed time into the balance and, if due, resamples the rate
// for varying load. Call once per loop iteration before testing Allowed.
func (b *TokenBucket) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dt := now.Sub(b.lastIter)
	b.lastIter = now
	if dt > 0 {
		b.tokens += dt.Seconds() * float64(b.limiter.Limit())
	}

	if b.varyLoad && now.Sub(b.lastReload) >= reloadPeriod {
		b.lastReload = now
		sampled := lognormal(b.rnd, b.meanBitsPerSec, b.varianceBits)
		if sampled < 0 {
			sampled = 0
		}
		b.limiter.SetLimit(rate.Limit(sampled / 8))
	}
}

// Allowed reports whether a write may proceed (balance not yet negative).
func (b *TokenBucket) Allowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens >= 0
}

// Consume debits n bytes from the balance after a successful write.
func (b *TokenBucket) Consume(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens -= float64(n)
}

// RetryDelay is the fixed sleep used while waiting for the balance to
// recover.
func (b *TokenBucket) RetryDelay() time.Duration { return retryDelay }

// lognormal samples a lognormal distribution whose own mean and variance
// (not those of the underlying normal) are the given values, matching how
// "mean bits/sec with variance" load parameters are interpreted elsewhere
// in this package; clamped by the caller.
func lognormal(rnd *rand.Rand, mean, variance float64) float64 {
	return Lognormal(rnd, mean, variance)
}

// Lognormal is the exported form, used by isochronous per-frame burst-size
// sampling as well as the token bucket's own varying-load reload.
func Lognormal(rnd *rand.Rand, mean, variance float64) float64 {
	if mean <= 0 {
		return 0
	}
	if variance <= 0 {
		return mean
	}
	sigma2 := math.Log(1 + variance/(mean*mean))
	mu := math.Log(mean) - sigma2/2
	return math.Exp(mu + math.Sqrt(sigma2)*rnd.NormFloat64())
}
