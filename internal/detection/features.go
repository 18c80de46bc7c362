package detection

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/BradenHooton/tripwire/internal/models"
)

// FeatureCount is the width of the vector the anomaly model was trained on.
const FeatureCount = 6

// FeatureVector is, in order: failures, attempts, unique_users, failure_rate,
// delta_t (seconds since the IP's previous event), hour_of_day.
type FeatureVector [FeatureCount]float64

// Slice returns the vector as the []float64 the scorer expects.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureCount)
	copy(out, v[:])
	return out
}

func (v FeatureVector) Failures() float64    { return v[0] }
func (v FeatureVector) Attempts() float64    { return v[1] }
func (v FeatureVector) UniqueUsers() float64 { return v[2] }
func (v FeatureVector) FailureRate() float64 { return v[3] }
func (v FeatureVector) DeltaT() float64      { return v[4] }
func (v FeatureVector) HourOfDay() float64   { return v[5] }

// ipAccumulator holds running counters for one IP.
// Invariants: failures <= attempts, len(users) <= attempts.
type ipAccumulator struct {
	failures int
	attempts int
	users    map[string]struct{}
	last     time.Time
}

// FeatureExtractor turns events into feature vectors using per-IP running
// statistics. Every event with an IP counts, whatever its status.
type FeatureExtractor struct {
	accumulators *expirable.LRU[string, *ipAccumulator]
	now          Clock
	mu           sync.Mutex
}

// NewFeatureExtractor creates an extractor that tracks up to maxKeys IPs and
// reclaims an IP after ttl without events.
func NewFeatureExtractor(maxKeys int, ttl time.Duration) *FeatureExtractor {
	if maxKeys <= 0 {
		maxKeys = DefaultStateConfig().MaxKeys
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FeatureExtractor{
		accumulators: expirable.NewLRU[string, *ipAccumulator](maxKeys, nil, ttl),
		now:          time.Now,
	}
}

// SetClock replaces the processing-time source.
func (e *FeatureExtractor) SetClock(now Clock) {
	e.now = now
}

// Len reports the number of tracked IPs.
func (e *FeatureExtractor) Len() int {
	return e.accumulators.Len()
}

// Extract updates the accumulator for event.IP and returns the new vector.
func (e *FeatureExtractor) Extract(event *models.LoginEvent) (FeatureVector, error) {
	if event.IP == "" {
		return FeatureVector{}, models.ErrMissingIP
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	acc, ok := e.accumulators.Get(event.IP)
	if !ok {
		acc = &ipAccumulator{users: make(map[string]struct{})}
	}

	var deltaT float64
	if !acc.last.IsZero() {
		deltaT = now.Sub(acc.last).Seconds()
	}
	acc.last = now

	acc.attempts++
	if event.Status == models.StatusFailure {
		acc.failures++
	}
	if event.Username != "" {
		acc.users[event.Username] = struct{}{}
	}

	// Re-adding refreshes the idle TTL.
	e.accumulators.Add(event.IP, acc)

	return FeatureVector{
		float64(acc.failures),
		float64(acc.attempts),
		float64(len(acc.users)),
		float64(acc.failures) / float64(acc.attempts),
		deltaT,
		float64(now.Hour()),
	}, nil
}
