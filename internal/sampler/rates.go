package sampler

const bytesPerMB = 1 << 20

// RateTracker converts a monotonically-increasing byte counter into an
// instantaneous MB/s rate by differencing consecutive readings.
type RateTracker struct {
	primed    bool
	prevBytes uint64
	prevRate  float64
}

// Update consumes the current counter reading and the seconds elapsed since
// the previous one, and returns the derived rate.
//
// The first reading primes the tracker and yields 0. A counter that went
// backwards (wrap or device reset) yields 0 rather than a negative rate. A
// zero elapsed time (duplicate timestamp) repeats the previous rate and
// leaves the tracker untouched so the next interval absorbs the delta.
func (r *RateTracker) Update(currBytes uint64, elapsedSeconds float64) float64 {
	if !r.primed {
		r.primed = true
		r.prevBytes = currBytes
		r.prevRate = 0
		return 0
	}

	if elapsedSeconds <= 0 {
		return r.prevRate
	}

	var delta float64
	if currBytes >= r.prevBytes {
		delta = float64(currBytes - r.prevBytes)
	}

	rate := delta / elapsedSeconds / bytesPerMB
	r.prevBytes = currBytes
	r.prevRate = rate
	return rate
}
