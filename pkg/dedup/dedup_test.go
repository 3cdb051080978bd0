package dedup

import (
	"fmt"
	"testing"
	"time"
)

func TestShouldProcessTTL(t *testing.T) {
	now := time.Unix(0, 0)
	d := New(10*time.Minute, 100).WithClock(func() time.Time { return now })

	if !d.ShouldProcess("42") {
		t.Fatalf("first ShouldProcess(42) = false")
	}
	if d.ShouldProcess("42") {
		t.Errorf("ShouldProcess(42) within TTL = true")
	}
	if !d.Seen("42") {
		t.Errorf("Seen(42) = false")
	}

	now = now.Add(10*time.Minute + time.Second)
	if d.Seen("42") {
		t.Errorf("Seen(42) after TTL = true")
	}
	if !d.ShouldProcess("42") {
		t.Errorf("ShouldProcess(42) after TTL = false")
	}
	if !d.ShouldProcess("") || !d.ShouldProcess("") {
		t.Errorf("empty id must always be processed")
	}
}

func TestCapacityBound(t *testing.T) {
	now := time.Unix(0, 0)
	d := New(time.Hour, 5).WithClock(func() time.Time { return now })
	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		d.ShouldProcess(fmt.Sprint(i))
	}
	if got := d.Len(); got > 5 {
		t.Errorf("Len() = %d, want <= 5", got)
	}
	if !d.Seen("19") {
		t.Errorf("most recent id evicted")
	}
}
