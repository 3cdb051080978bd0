package sensor_simulator

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/telemetry"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/sensorbus"
)

type probeKey struct{ addr, cmd byte }

// Device answers sensor-bus requests like the RS-485 soil and solar sensors.
// A command shared by several fields (NPK) answers them in probe order on
// consecutive requests. It implements sensorbus.Conn.
type Device struct {
	mu       sync.Mutex
	gen      *DataGenerator
	fields   map[probeKey][]telemetry.Field
	last     probeKey
	seq      int
	pending  []byte
	deadline time.Time
	silent   map[byte]bool
	corrupt  int
	closed   bool
}

func NewDevice(gen *DataGenerator, probes []telemetry.Probe) *Device {
	if len(probes) == 0 {
		probes = telemetry.DefaultProbes()
	}
	fields := make(map[probeKey][]telemetry.Field, len(probes))
	for _, p := range probes {
		k := probeKey{p.Address, p.Command}
		fields[k] = append(fields[k], p.Field)
	}
	return &Device{gen: gen, fields: fields, silent: map[byte]bool{}}
}

// SetSilent simula un sensore scollegato: le richieste a addr restano senza risposta.
func (d *Device) SetSilent(addr byte, on bool) {
	d.mu.Lock()
	d.silent[addr] = on
	d.mu.Unlock()
}

// CorruptNext rovina il checksum delle prossime n risposte.
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	d.corrupt += n
	d.mu.Unlock()
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, os.ErrClosed
	}
	if len(p) != sensorbus.FrameSize {
		return len(p), nil
	}
	req := sensorbus.Request{p[0], p[1], p[2]}
	if !req.Valid() || d.silent[req.Address()] {
		return len(p), nil
	}
	k := probeKey{req.Address(), req.Command()}
	fs, ok := d.fields[k]
	if !ok {
		return len(p), nil
	}
	if k == d.last {
		d.seq++
	} else {
		d.last, d.seq = k, 0
	}
	f := fs[d.seq%len(fs)]
	v, _ := d.gen.Value(f)
	resp, err := sensorbus.EncodeResponse(v)
	if err != nil {
		log.Printf("sim: %s value %.2f not encodable: %v", f, v, err)
		return len(p), nil
	}
	if d.corrupt > 0 {
		d.corrupt--
		resp[2]++
	}
	d.pending = append(d.pending, resp[:]...)
	return len(p), nil
}

// Read returns the queued response bytes, or (0, nil) when the device stayed silent.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, os.ErrClosed
	}
	if len(d.pending) == 0 {
		if !d.deadline.IsZero() && !time.Now().Before(d.deadline) {
			return 0, os.ErrDeadlineExceeded
		}
		return 0, nil
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *Device) SetReadDeadline(t time.Time) error {
	d.mu.Lock()
	d.deadline = t
	d.mu.Unlock()
	return nil
}

func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	d.pending = d.pending[:0]
	d.mu.Unlock()
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("sim device already closed")
	}
	d.closed = true
	return nil
}
