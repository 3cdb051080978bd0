// Package sensorbus implements the 3-byte checksummed request/response frames
// of the soil/solar sensor bus and a transaction layer over a byte transport.
package sensorbus

import (
	"errors"
	"fmt"
	"math"
)

// FrameSize is the size of both request and response frames.
const FrameSize = 3

var (
	ErrIncomplete       = errors.New("sensorbus: incomplete frame")
	ErrChecksumMismatch = errors.New("sensorbus: checksum mismatch")
	ErrTimeout          = errors.New("sensorbus: exchange timed out")
	ErrOutOfRange       = errors.New("sensorbus: value out of range")
)

// Request is [address, command, address+command].
type Request [FrameSize]byte

// Response is [hi, lo, hi+lo].
type Response [FrameSize]byte

// EncodeRequest builds the request frame for one reading.
func EncodeRequest(address, command byte) Request {
	return Request{address, command, address + command}
}

func (r Request) Address() byte { return r[0] }
func (r Request) Command() byte { return r[1] }

// Valid reports whether the request checksum matches.
func (r Request) Valid() bool { return r[0]+r[1] == r[2] }

// DecodeResponse returns (hi*256+lo)/100. The input must be exactly FrameSize bytes.
func DecodeResponse(b []byte) (float64, error) {
	if len(b) != FrameSize {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrIncomplete, len(b), FrameSize)
	}
	hi, lo, sum := b[0], b[1], b[2]
	if hi+lo != sum {
		return 0, fmt.Errorf("%w: 0x%02X+0x%02X != 0x%02X", ErrChecksumMismatch, hi, lo, sum)
	}
	return float64(uint16(hi)<<8|uint16(lo)) / 100.0, nil
}

// EncodeResponse is the inverse of DecodeResponse; values are rounded to 2 decimals.
func EncodeResponse(value float64) (Response, error) {
	raw := math.Round(value * 100)
	if raw < 0 || raw > math.MaxUint16 || math.IsNaN(raw) {
		return Response{}, fmt.Errorf("%w: %v", ErrOutOfRange, value)
	}
	v := uint16(raw)
	hi, lo := byte(v>>8), byte(v)
	return Response{hi, lo, hi + lo}, nil
}
