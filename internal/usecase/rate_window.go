package usecase

import "time"

// SlidingWindow is a per-session request limiter over a rolling time window.
// It is process-local and not safe for concurrent use; the owning session slot
// serializes access.
type SlidingWindow struct {
	limit  int
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{limit: limit, window: window, hits: make([]time.Time, 0, limit)}
}

// Allow drops timestamps older than now-window and records now unless the
// remaining count has already reached the limit.
func (w *SlidingWindow) Allow(now time.Time) bool {
	cutoff := now.Add(-w.window)
	kept := w.hits[:0]
	for _, ts := range w.hits {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.hits = kept

	if len(w.hits) >= w.limit {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// RetryAfter is the value advertised to rejected callers.
func (w *SlidingWindow) RetryAfter() time.Duration { return w.window }
