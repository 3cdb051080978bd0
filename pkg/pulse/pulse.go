// Package pulse holds the flow-meter pulse counter, the only state shared
// between the meter's event handler and the control loop.
package pulse

import "sync/atomic"

// Counter is safe for one or more incrementing goroutines and one reader.
type Counter struct {
	n atomic.Uint64
}

// Increment records one pulse. Called from the meter event context.
func (c *Counter) Increment() { c.n.Add(1) }

// Add records several pulses at once (simulated meters batch them).
func (c *Counter) Add(delta uint64) { c.n.Add(delta) }

// TakeAndReset returns the pulses accrued since the previous call and zeroes
// the counter in one atomic exchange, so no pulse is lost or counted twice.
func (c *Counter) TakeAndReset() uint64 { return c.n.Swap(0) }
