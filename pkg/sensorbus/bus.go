package sensorbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Conn is the byte transport under the bus (serial port, WebSocket bridge, simulator).
// Read must return (0, nil) or an error wrapping os.ErrDeadlineExceeded once the
// read deadline has passed.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// inputResetter is implemented by transports that can drop stale input bytes.
type inputResetter interface {
	ResetInputBuffer() error
}

const DefaultExchangeTimeout = 100 * time.Millisecond

// Bus runs one request/response transaction at a time over a Conn.
type Bus struct {
	mu      sync.Mutex
	conn    Conn
	timeout time.Duration
}

func NewBus(conn Conn, timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &Bus{conn: conn, timeout: timeout}
}

// Exchange sends one request and decodes the response. A response shorter than
// FrameSize before the deadline yields ErrTimeout (which also matches ErrIncomplete).
func (b *Bus) Exchange(ctx context.Context, address, command byte) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// residui di una risposta arrivata in ritardo
	if r, ok := b.conn.(inputResetter); ok {
		_ = r.ResetInputBuffer()
	}
	if err := b.conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("sensorbus: set deadline: %w", err)
	}

	req := EncodeRequest(address, command)
	if _, err := b.conn.Write(req[:]); err != nil {
		return 0, fmt.Errorf("sensorbus: write 0x%02X/0x%02X: %w", address, command, err)
	}

	var buf [FrameSize]byte
	n := 0
	for n < FrameSize {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		m, err := b.conn.Read(buf[n:])
		n += m
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return 0, fmt.Errorf("sensorbus: read 0x%02X/0x%02X: %w", address, command, err)
		}
		if m == 0 {
			break
		}
	}
	if n < FrameSize {
		return 0, fmt.Errorf("%w: 0x%02X/0x%02X got %d of %d bytes: %w", ErrTimeout, address, command, n, FrameSize, ErrIncomplete)
	}
	return DecodeResponse(buf[:])
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}
