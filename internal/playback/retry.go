package playback

import "time"

// retryMachine bounds recovery attempts for one loaded media. The delay grows
// linearly with the attempt number.
type retryMachine struct {
	attempt int
	max     int
	base    time.Duration
}

func newRetryMachine(max int, base time.Duration) retryMachine {
	if max < 0 {
		max = 0
	}
	return retryMachine{max: max, base: base}
}

// Fail records a fault. ok is false when the fault is not recoverable or the
// budget is spent.
func (r *retryMachine) Fail(recoverable bool) (time.Duration, bool) {
	if !recoverable || r.attempt >= r.max {
		return 0, false
	}
	r.attempt++
	return r.base * time.Duration(r.attempt), true
}

func (r *retryMachine) Succeeded() {
	r.attempt = 0
}

func (r *retryMachine) Attempt() int {
	return r.attempt
}
