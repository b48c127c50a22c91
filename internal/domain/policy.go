package domain

import "time"

// Wave policy:
// Buyers are released into the reservation stage in contiguous bands of
// positions. The cursor wave_end only ever grows, and it grows at most once
// per wave interval. Advancement is poll-driven; there is no ticker.
//
// Semantics:
// - first observation after sale opens: wave_end = min(total, waveSize)
// - later observations: if total > wave_end and the interval has elapsed
//   since the last advance, wave_end = min(total, wave_end + waveSize)
//
// The authoritative version of this arithmetic runs inside the ephemeral
// store (one atomic script per poll); these functions are the same math for
// ETA computation and for tests.

// InitialWaveEnd is the cursor value for the first poll after sale opens.
func InitialWaveEnd(total int64, waveSize int) int64 {
	if total < int64(waveSize) {
		return total
	}
	return int64(waveSize)
}

// NextWaveEnd returns the cursor after one observation. sinceLastAdvance is
// the time elapsed since the cursor last moved.
func NextWaveEnd(waveEnd, total int64, waveSize int, sinceLastAdvance, waveInterval time.Duration) int64 {
	if total <= waveEnd || sinceLastAdvance < waveInterval {
		return waveEnd
	}
	next := waveEnd + int64(waveSize)
	if next > total {
		next = total
	}
	return next
}

// CanEnter reports whether a token at the given position is inside the
// admitted band. A paused event admits nobody, but nobody loses their spot.
func CanEnter(position, waveEnd int64, paused bool) bool {
	return !paused && position > 0 && position <= waveEnd
}

// WaveEta estimates seconds until the position falls inside the band:
// ceil(max(0, position-waveEnd) / waveSize) * waveInterval.
func WaveEta(position, waveEnd int64, waveSize int, waveInterval time.Duration) int64 {
	if waveSize <= 0 {
		return 0
	}
	behind := position - waveEnd
	if behind <= 0 {
		return 0
	}
	waves := (behind + int64(waveSize) - 1) / int64(waveSize)
	return waves * int64(waveInterval/time.Second)
}
