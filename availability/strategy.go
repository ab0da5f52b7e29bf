// Package availability implements the exponential-backoff host-availability
// strategy of spec.md §4.8.
package availability

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/kulezi/clusterdriver/hostinfo"
)

const (
	DefaultMaxRetries       = 5
	DefaultInitialBackoffSec = 1
)

// Strategy owns the per-host backoff state. It satisfies
// hostinfo.AvailabilityStrategy so a HostInfo can delegate to one directly.
type Strategy struct {
	maxRetries      int
	initialBackoff  time.Duration
	notAvailableCnt atomic.Int64
	lastChanged     atomic.Int64 // unix nanos
}

// New constructs a Strategy. maxRetries < 1 or initialBackoffSec < 1 are
// construction-time errors per spec.md §4.8.
func New(maxRetries int, initialBackoffSec int) (*Strategy, error) {
	if maxRetries < 1 {
		return nil, errors.Newf("availability: maxRetries must be >= 1, got %d", maxRetries)
	}
	if initialBackoffSec < 1 {
		return nil, errors.Newf("availability: initialBackoffSec must be >= 1, got %d", initialBackoffSec)
	}
	return &Strategy{
		maxRetries:     maxRetries,
		initialBackoff: time.Duration(initialBackoffSec) * time.Second,
	}, nil
}

// MustNew panics on invalid parameters; used for package-level defaults.
func MustNew(maxRetries, initialBackoffSec int) *Strategy {
	s, err := New(maxRetries, initialBackoffSec)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns a Strategy using spec.md's documented defaults (maxRetries
// 5, initialBackoffSec 1).
func Default() *Strategy {
	return MustNew(DefaultMaxRetries, DefaultInitialBackoffSec)
}

// SetHostAvailability resets the backoff counter on AVAILABLE, and
// increments it (recording the transition time) on NOT_AVAILABLE.
func (s *Strategy) SetHostAvailability(v hostinfo.Availability) {
	if v == hostinfo.Available {
		s.notAvailableCnt.Store(0)
		return
	}
	s.notAvailableCnt.Inc()
	s.lastChanged.Store(time.Now().UnixNano())
}

// GetHostAvailability implements spec.md §4.8's evaluation:
//   - raw == AVAILABLE -> AVAILABLE.
//   - notAvailableCount >= maxRetries -> NOT_AVAILABLE (permanently, until a
//     fresh AVAILABLE observation resets the counter).
//   - else, AVAILABLE once now >= lastChanged + 2^notAvailableCount * initialBackoff
//     (to permit a retry); otherwise the raw observation is reported unchanged.
func (s *Strategy) GetHostAvailability(raw hostinfo.Availability) hostinfo.Availability {
	if raw == hostinfo.Available {
		return hostinfo.Available
	}

	count := s.notAvailableCnt.Load()
	if count >= int64(s.maxRetries) {
		return hostinfo.NotAvailable
	}

	lastChanged := time.Unix(0, s.lastChanged.Load())
	backoff := s.initialBackoff * time.Duration(pow2(count))
	if time.Now().Before(lastChanged.Add(backoff)) {
		return raw
	}
	return hostinfo.Available
}

// NotAvailableCount reports the current consecutive-failure counter, for
// observability and tests.
func (s *Strategy) NotAvailableCount() int64 { return s.notAvailableCnt.Load() }

func pow2(n int64) int64 {
	if n < 0 {
		return 1
	}
	var r int64 = 1
	for i := int64(0); i < n; i++ {
		r *= 2
	}
	return r
}
