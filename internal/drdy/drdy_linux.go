//go:build linux

package drdy

import (
	"fmt"
	"io"

	"github.com/warthog618/go-gpiocdev"
)

// requestLine is replaced in tests.
var requestLine = func(chip string, offset int, handler func(gpiocdev.LineEvent)) (io.Closer, error) {
	return gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer("imufusion-drdy"),
		gpiocdev.WithEventHandler(handler))
}

// Open watches line offset on chip ("gpiochip0" or a /dev path) for rising
// edges.
func Open(chip string, offset int) (*Pin, error) {
	if chip == "" || offset < 0 {
		return nil, fmt.Errorf("drdy: invalid line %s:%d", chip, offset)
	}
	p := newPin()
	line, err := requestLine(chip, offset, func(evt gpiocdev.LineEvent) {
		if evt.Type != gpiocdev.LineEventRisingEdge {
			return
		}
		p.deliver(evt.Timestamp, evt.LineSeqno)
	})
	if err != nil {
		return nil, fmt.Errorf("drdy: request %s:%d: %w", chip, offset, err)
	}
	p.line = line
	return p, nil
}
