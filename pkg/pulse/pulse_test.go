package pulse

import (
	"sync"
	"testing"
)

func TestTakeAndReset(t *testing.T) {
	var c Counter
	c.Increment()
	c.Add(4)
	if got := c.TakeAndReset(); got != 5 {
		t.Errorf("TakeAndReset() = %d, want 5", got)
	}
	if got := c.TakeAndReset(); got != 0 {
		t.Errorf("TakeAndReset() after reset = %d, want 0", got)
	}
}

// Pulses counted concurrently with TakeAndReset are neither lost nor doubled.
func TestConcurrentNoLoss(t *testing.T) {
	const writers, perWriter = 8, 20000
	var c Counter
	var wg sync.WaitGroup
	done := make(chan struct{})
	total := make(chan uint64)

	go func() {
		var sum uint64
		for {
			select {
			case <-done:
				total <- sum + c.TakeAndReset()
				return
			default:
				sum += c.TakeAndReset()
			}
		}
	}()

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				c.Increment()
			}
		}()
	}
	wg.Wait()
	close(done)

	if got := <-total; got != writers*perWriter {
		t.Errorf("total pulses = %d, want %d", got, writers*perWriter)
	}
}
