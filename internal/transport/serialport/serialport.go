// Package serialport is the wired side of the bridge, built on
// go.bug.st/serial. Reads are polled: the port is opened with a short read
// timeout so the forwarding loop can interleave reads with cancellation
// checks instead of blocking.
package serialport

import (
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
)

// pollWindow bounds a single read. At timeout the port returns (0, nil),
// which the forwarding loop treats as "nothing pending".
const pollWindow = 10 * time.Millisecond

// Port wraps an open serial port in the bridge's wired link contract.
type Port struct {
	name string
	port serial.Port
}

// Open opens the port in 8N1 mode at the given baud rate with polled reads.
func Open(name string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(pollWindow); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	log.Printf("serial: opened %s at %d baud", name, baud)
	return &Port{name: name, port: p}, nil
}

// ReadPending returns the bytes that arrived within one poll window.
// (0, nil) means the window elapsed with nothing pending.
func (p *Port) ReadPending(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Write sends bytes out the wire verbatim.
func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close releases the port.
func (p *Port) Close() error {
	err := p.port.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", p.name, err)
	}
	log.Printf("serial: closed %s", p.name)
	return nil
}

// Name returns the device path the port was opened with.
func (p *Port) Name() string { return p.name }
