package sensorbus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.bug.st/serial"
)

// SerialConn adapts a serial port (RS-485 adapter) to Conn.
type SerialConn struct {
	port serial.Port
}

func (s *SerialConn) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialConn) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialConn) Close() error                { return s.port.Close() }
func (s *SerialConn) ResetInputBuffer() error     { return s.port.ResetInputBuffer() }

// SetReadDeadline maps the deadline onto the port read timeout; Read then returns (0, nil).
func (s *SerialConn) SetReadDeadline(t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

// OpenSerial apre la porta con retry esponenziale (l'adattatore USB può comparire in ritardo).
func OpenSerial(ctx context.Context, portName string, baudRate int) (*SerialConn, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second

	var port serial.Port
	err := backoff.Retry(func() error {
		p, err := serial.Open(portName, mode)
		if err != nil {
			log.Printf("sensorbus: open %s failed: %v", portName, err)
			return err
		}
		port = p
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	log.Printf("sensorbus: serial %s open at %d baud", portName, baudRate)
	return &SerialConn{port: port}, nil
}
