package detection

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// StateConfig bounds the in-memory state of a detector.
type StateConfig struct {
	// FailureWindow is the sliding window length for failure counting.
	FailureWindow time.Duration
	// MaxKeys caps each keyed map; least recently used keys are reclaimed first.
	MaxKeys int
	// LastSuccessTTL reclaims a username's last success after this much inactivity.
	LastSuccessTTL time.Duration
}

// DefaultStateConfig returns the defaults used when nothing is configured.
func DefaultStateConfig() StateConfig {
	return StateConfig{
		FailureWindow:  60 * time.Second,
		MaxKeys:        100_000,
		LastSuccessTTL: 24 * time.Hour,
	}
}

// LastSuccess is the most recent successful login seen for a username.
type LastSuccess struct {
	IP  string
	At  time.Time
	Lat *float64
	Lon *float64
}

// HasCoordinates mirrors LoginEvent.HasCoordinates.
func (l LastSuccess) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// WindowStore keeps per-IP failure windows and per-username last successes.
//
// A failure window is an ascending slice of processing times, pruned on every
// write. Idle windows expire after FailureWindow, at which point every entry
// would have been pruned anyway.
type WindowStore struct {
	window      time.Duration
	failures    *expirable.LRU[string, []time.Time]
	lastSuccess *expirable.LRU[string, LastSuccess]
	mu          sync.Mutex
}

// NewWindowStore creates an empty store.
func NewWindowStore(config StateConfig) *WindowStore {
	defaults := DefaultStateConfig()
	if config.FailureWindow <= 0 {
		config.FailureWindow = defaults.FailureWindow
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = defaults.MaxKeys
	}
	if config.LastSuccessTTL <= 0 {
		config.LastSuccessTTL = defaults.LastSuccessTTL
	}

	return &WindowStore{
		window:      config.FailureWindow,
		failures:    expirable.NewLRU[string, []time.Time](config.MaxKeys, nil, config.FailureWindow),
		lastSuccess: expirable.NewLRU[string, LastSuccess](config.MaxKeys, nil, config.LastSuccessTTL),
	}
}

// Window returns the configured window length.
func (s *WindowStore) Window() time.Duration {
	return s.window
}

// RecordFailure appends t to the IP's window, drops entries at least one
// window old and returns the remaining count.
func (s *WindowStore) RecordFailure(ip string, t time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.failures.Get(ip)
	timestamps := s.prune(append(existing, t), t)
	s.failures.Add(ip, timestamps)

	return len(timestamps)
}

// FailureCount returns the number of failures for ip still inside the window at t.
func (s *WindowStore) FailureCount(ip string, t time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.failures.Peek(ip)
	if !ok {
		return 0
	}
	count := 0
	for _, ts := range existing {
		if t.Sub(ts) < s.window {
			count++
		}
	}
	return count
}

// Clear forgets the failure window for ip.
func (s *WindowStore) Clear(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures.Remove(ip)
}

// RecordSuccess overwrites the last success for username and returns the
// value it replaced, if any.
func (s *WindowStore) RecordSuccess(username, ip string, t time.Time, lat, lon *float64) (LastSuccess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.lastSuccess.Get(username)
	s.lastSuccess.Add(username, LastSuccess{IP: ip, At: t, Lat: lat, Lon: lon})

	return prev, ok
}

// Reset drops all state.
func (s *WindowStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures.Purge()
	s.lastSuccess.Purge()
}

// Len reports the number of tracked IPs and usernames.
func (s *WindowStore) Len() (ips, usernames int) {
	return s.failures.Len(), s.lastSuccess.Len()
}

// prune keeps timestamps strictly younger than one window. Timestamps are
// ascending, so the first survivor marks the cut.
func (s *WindowStore) prune(timestamps []time.Time, now time.Time) []time.Time {
	cut := 0
	for cut < len(timestamps) && now.Sub(timestamps[cut]) >= s.window {
		cut++
	}
	if cut == 0 {
		return timestamps
	}
	kept := make([]time.Time, len(timestamps)-cut)
	copy(kept, timestamps[cut:])
	return kept
}
