// Package calibration loads per-device sensor corrections once at boot.
//
// Keys are "<field>.scale", "<field>.offset" and "flow.pulses_per_liter".
package calibration

import (
	"context"
	"errors"
)

const KeyPulsesPerLiter = "flow.pulses_per_liter"

var ErrNotFound = errors.New("calibration: device not found")

// Calibration is read-only after Load.
type Calibration map[string]float64

// Store is the persistent calibration source.
type Store interface {
	Load(ctx context.Context, deviceID string) (Calibration, error)
}

// Apply returns v*scale+offset for field; a missing scale counts as 1.
func (c Calibration) Apply(field string, v float64) float64 {
	scale, ok := c[field+".scale"]
	if !ok || scale == 0 {
		scale = 1
	}
	return v*scale + c[field+".offset"]
}

// PulsesPerLiter ritorna il fattore del flussimetro, o def se non calibrato.
func (c Calibration) PulsesPerLiter(def float64) float64 {
	if v, ok := c[KeyPulsesPerLiter]; ok && v > 0 {
		return v
	}
	return def
}

// Load reads from store and degrades to an empty calibration on any error.
func Load(ctx context.Context, store Store, deviceID string) (Calibration, error) {
	if store == nil {
		return Calibration{}, nil
	}
	c, err := store.Load(ctx, deviceID)
	if err != nil {
		return Calibration{}, err
	}
	if c == nil {
		c = Calibration{}
	}
	return c, nil
}
