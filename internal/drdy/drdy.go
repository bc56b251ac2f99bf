// Package drdy turns the IMU data-ready interrupt into a stream of
// timestamped events.
package drdy

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one rising edge. At is the kernel monotonic timestamp.
type Event struct {
	At  time.Duration
	Seq uint32
}

// Pin delivers data-ready edges. If the reader falls behind, new edges are
// dropped and counted rather than blocking the kernel event reader.
type Pin struct {
	line io.Closer

	mu      sync.Mutex
	closed  bool
	events  chan Event
	dropped atomic.Uint64
}

const eventBuffer = 16

func newPin() *Pin {
	return &Pin{events: make(chan Event, eventBuffer)}
}

func (p *Pin) deliver(at time.Duration, seq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- Event{At: at, Seq: seq}:
	default:
		p.dropped.Add(1)
	}
}

// Events is closed by Close.
func (p *Pin) Events() <-chan Event { return p.events }

// Dropped counts edges discarded because Events was full.
func (p *Pin) Dropped() uint64 { return p.dropped.Load() }

func (p *Pin) Close() error {
	if p == nil {
		return nil
	}
	var err error
	if p.line != nil {
		err = p.line.Close()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return err
}
