package calibration

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileStore reads a YAML file keyed by device id, with an optional "default" entry:
//
//	default:
//	  flow.pulses_per_liter: 450
//	node-1:
//	  soil_moisture.scale: 1.02
//	  soil_moisture.offset: -0.5
type FileStore struct {
	Path string
}

func (f FileStore) Load(_ context.Context, deviceID string) (Calibration, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read calibration %s: %w", f.Path, err)
	}
	var doc map[string]map[string]float64
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", f.Path, err)
	}

	out := Calibration{}
	def, hasDef := doc["default"]
	dev, hasDev := doc[deviceID]
	if !hasDef && !hasDev {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}
	for k, v := range def {
		out[k] = v
	}
	for k, v := range dev {
		out[k] = v
	}
	return out, nil
}
