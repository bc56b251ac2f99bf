//go:build !linux

package drdy

import "fmt"

func Open(chip string, offset int) (*Pin, error) {
	return nil, fmt.Errorf("drdy: gpio unsupported on this platform")
}
