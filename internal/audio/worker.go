// SPDX-License-Identifier: MIT
package audio

import "time"

// worker runs a producer goroutine that can be halted once.
type worker struct {
	stop chan struct{}
	done chan struct{}
}

func startWorker(fn func(stop <-chan struct{})) *worker {
	w := &worker{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		fn(w.stop)
	}()
	return w
}

// halt signals the goroutine and waits for it to return.
func (w *worker) halt() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

// blockPeriod is the real-time duration of n samples.
func blockPeriod(n int, sampleRate float64) time.Duration {
	return time.Duration(float64(n) / sampleRate * float64(time.Second))
}

// pace waits for the next tick when ticker is non-nil. It reports false when
// stop closed first.
func pace(ticker *time.Ticker, stop <-chan struct{}) bool {
	if ticker == nil {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	select {
	case <-stop:
		return false
	case <-ticker.C:
		return true
	}
}
